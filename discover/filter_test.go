package discover

import "testing"

func defaultFilter(t *testing.T) LinkFilter {
	t.Helper()
	f := DefaultFilter()
	if err := f.defaults(); err != nil {
		t.Fatalf("filter defaults: %v", err)
	}
	return f
}

func TestKeepFile(t *testing.T) {
	f := defaultFilter(t)
	cases := []struct {
		link string
		want bool
	}{
		// WHAT: extension allow-list, year floor, exclusions, fragments.
		{"https://portal.example/reports/graduation-2023.xlsx", true},
		{"https://portal.example/reports/attendance-2018.xls", true},
		{"https://portal.example/2024/demographic-snapshot.xlsb", true},
		{"https://portal.example/reports/graduation-2017.xlsx", false}, // below MinYear
		{"https://portal.example/reports/graduation.xlsx", false},     // no year token
		{"https://portal.example/reports/summary-2023.pdf", false},    // wrong extension
		{"https://portal.example/reports/results-2023.csv", false},
		{"https://portal.example/signin?next=report-2023.xlsx", false}, // excluded
		{"https://portal.example/quality-review/data-2023.xlsx", false},
		{"https://portal.example/nyc-school-survey/2023.xlsx", false},
		{"#section-2023.xlsx", false},
		{"javascript:void(0)", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := f.KeepFile(tc.link); got != tc.want {
			t.Errorf("KeepFile(%q) = %v, want %v", tc.link, got, tc.want)
		}
	}
}

func TestKeepFile_YearAnywhereInURL(t *testing.T) {
	// WHAT: The year token may live in the path, not just the file name.
	f := defaultFilter(t)
	if !f.KeepFile("https://portal.example/2022/downloads/attendance.xlsx") {
		t.Error("year in directory segment not honored")
	}
}

func TestKeepFile_MultipleYearTokens(t *testing.T) {
	// WHAT: One token at or above the floor is enough, even next to old
	// ones — school-year spans like 2015-2019 must pass.
	f := defaultFilter(t)
	if !f.KeepFile("https://portal.example/graduation-2015-2019.xlsx") {
		t.Error("span ending above MinYear rejected")
	}
	if f.KeepFile("https://portal.example/graduation-2014-2016.xlsx") {
		t.Error("span entirely below MinYear accepted")
	}
}

func TestKeepPage(t *testing.T) {
	f := defaultFilter(t)
	cases := []struct {
		link string
		want bool
	}{
		{"https://portal.example/reports/graduation-results", true},
		{"https://portal.example/about", false},
		{"https://portal.example/reports/login", false}, // excluded wins
		{"#reports", false},
	}
	for _, tc := range cases {
		if got := f.KeepPage(tc.link); got != tc.want {
			t.Errorf("KeepPage(%q) = %v, want %v", tc.link, got, tc.want)
		}
	}
}

func TestFilter_BadPattern(t *testing.T) {
	f := LinkFilter{SubPagePattern: "("}
	if err := f.defaults(); err == nil {
		t.Fatal("invalid pattern accepted")
	}
}
