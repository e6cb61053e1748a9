package sniff

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

// zipWith builds an in-memory zip archive containing the given file names.
func zipWith(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		w.Write([]byte("<data/>"))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestDetect_XLSX(t *testing.T) {
	// WHAT: An OOXML workbook archive is classified as xlsx.
	// WHY: This is the dominant format on the portal.
	data := zipWith(t, "[Content_Types].xml", "xl/workbook.xml", "xl/worksheets/sheet1.xml")
	if got := Detect(data); got != MimeXLSX {
		t.Errorf("got %q, want %q", got, MimeXLSX)
	}
}

func TestDetect_XLSB(t *testing.T) {
	// WHAT: A binary workbook archive is classified as xlsb.
	data := zipWith(t, "[Content_Types].xml", "xl/workbook.bin")
	if got := Detect(data); got != MimeXLSB {
		t.Errorf("got %q, want %q", got, MimeXLSB)
	}
}

func TestDetect_WorksheetFallback(t *testing.T) {
	// WHAT: An archive with worksheet parts but no canonical workbook path
	// still counts as OOXML.
	data := zipWith(t, "xl/worksheets/sheet1.xml")
	if got := Detect(data); got != MimeXLSX {
		t.Errorf("got %q, want %q", got, MimeXLSX)
	}
}

func TestDetect_PlainZip(t *testing.T) {
	// WHAT: A zip without workbook entries is not a spreadsheet.
	// WHY: Renaming archive.zip to report.xlsx must not pass validation.
	data := zipWith(t, "readme.txt")
	if got := Detect(data); got != MimeZIP {
		t.Errorf("got %q, want %q", got, MimeZIP)
	}
}

func TestDetect_LegacyOLE(t *testing.T) {
	// WHAT: The CFB magic maps to the legacy ms-excel MIME.
	data := append(append([]byte{}, oleMagic...), make([]byte, 512)...)
	if got := Detect(data); got != MimeXLS {
		t.Errorf("got %q, want %q", got, MimeXLS)
	}
}

func TestDetect_TextFallback(t *testing.T) {
	// WHAT: Non-container content falls back to stdlib detection.
	got := Detect([]byte("school,year,rate\nPS1,2024,0.91\n"))
	if !strings.HasPrefix(got, "text/plain") {
		t.Errorf("got %q, want text/plain prefix", got)
	}
}

func TestDetect_TruncatedZip(t *testing.T) {
	// WHAT: A corrupt zip header is reported as a plain archive, not a
	// workbook.
	data := zipWith(t, "xl/workbook.xml")[:20]
	if got := Detect(data); got != MimeZIP {
		t.Errorf("got %q, want %q", got, MimeZIP)
	}
}

func TestSpreadsheetMimes_CoverDetectedFamilies(t *testing.T) {
	allowed := map[string]bool{}
	for _, m := range SpreadsheetMimes() {
		allowed[m] = true
	}
	for _, m := range []string{MimeXLSX, MimeXLSB, MimeXLS} {
		if !allowed[m] {
			t.Errorf("%q missing from SpreadsheetMimes", m)
		}
	}
}
