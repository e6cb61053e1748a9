// Package sniff classifies raw bytes into a MIME type, specialized for the
// spreadsheet formats the archive accepts. Detection is content-based
// (magic bytes and archive structure), never extension-based: a renamed
// executable must not pass as a workbook.
package sniff

import (
	"archive/zip"
	"bytes"
	"net/http"
	"strings"
)

// MIME types for the spreadsheet families the pipeline accepts.
const (
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeXLSB = "application/vnd.ms-excel.sheet.binary.macroEnabled.12"
	// MimeXLS covers the legacy OLE compound-file container (.xls).
	MimeXLS = "application/vnd.ms-excel"
	// MimeZIP is returned for zip archives that are not OOXML workbooks.
	MimeZIP = "application/zip"
)

// oleMagic is the Compound File Binary header shared by all legacy Office
// formats (.xls, .doc, .ppt).
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// SpreadsheetMimes returns the MIME types the archive treats as valid
// spreadsheet content.
func SpreadsheetMimes() []string {
	return []string{MimeXLSX, MimeXLSB, MimeXLS}
}

// Detect returns the MIME type of data. Zip containers are opened to
// distinguish OOXML workbooks (xl/workbook.xml), binary workbooks
// (xl/workbook.bin), and plain archives. Anything else falls back to
// http.DetectContentType.
func Detect(data []byte) string {
	if bytes.HasPrefix(data, oleMagic) {
		// The CFB directory is not parsed; distinguishing .xls from .doc
		// would require walking the FAT. Legacy Office containers are
		// reported as ms-excel since that is the only family callers accept.
		return MimeXLS
	}
	if bytes.HasPrefix(data, zipMagic) {
		return detectZip(data)
	}
	return http.DetectContentType(data)
}

func detectZip(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// Truncated or corrupt archive: report the container type and let
		// the validator reject it as a non-spreadsheet.
		return MimeZIP
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "xl/workbook.bin":
			return MimeXLSB
		case f.Name == "xl/workbook.xml":
			return MimeXLSX
		}
	}
	// Some producers place the workbook under a non-canonical path; accept
	// any xl/ worksheet part as OOXML.
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") {
			return MimeXLSX
		}
	}
	return MimeZIP
}
