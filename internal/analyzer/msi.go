package analyzer

import (
	"bytes"
	"io"
	"strings"

	"github.com/sassoftware/relic/v8/lib/comdoc"

	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
)

// Reserved stream names after demangling. Table-backed streams carry the
// table marker, decoded here as "!".
const (
	msiStreamStringPool  = "!_StringPool"
	msiStreamStringData  = "!_StringData"
	msiStreamColumns     = "!_Columns"
	msiStreamSummaryInfo = "\x05SummaryInformation"
	msiTableStreamPrefix = "!"
)

// maxStreamSize bounds a single stream read; anything larger than this in a
// metadata stream is hostile.
const msiMaxStreamSize = 1 << 24

// Property-table names projected onto canonical keys.
var msiPropertyFields = map[string]string{
	"ProductName":    FieldProductName,
	"ProductVersion": FieldProductVersion,
	"Manufacturer":   FieldManufacturer,
	"ProductCode":    FieldProductCode,
	"UpgradeCode":    FieldUpgradeCode,
}

// Row counts reported for these tables when their layout is known.
var msiCountedTables = map[string]string{
	"Component":    "Components",
	"Feature":      "Features",
	"File":         "Files",
	"CustomAction": "CustomActions",
}

// decodeMSI walks the OLE compound-file directory, recovers logical stream
// names, reads the string pool and the Property table, and parses the
// summary-information property set. An unreadable container is structural;
// an unreadable individual stream only omits its fields.
func decodeMSI(data []byte) (Fields, *Error) {
	f := Fields{}

	cf, err := comdoc.ReadFile(bytes.NewReader(data))
	if err != nil {
		return nil, structuralErr("MSI", "unreadable compound file: %v", err)
	}
	defer cf.Close()

	entries, err := cf.ListDir(nil)
	if err != nil {
		return nil, structuralErr("MSI", "compound file directory unreadable: %v", err)
	}

	streams := map[string]*comdoc.DirEnt{}
	for _, e := range entries {
		if e.Type != comdoc.DirStream {
			continue
		}
		streams[decodeStreamName(e.Name())] = e
	}

	readStream := func(name string) []byte {
		e, ok := streams[name]
		if !ok {
			return nil
		}
		r, err := cf.ReadStream(e)
		if err != nil {
			logger.Debugf("msi: stream %q unreadable: %v", name, err)
			return nil
		}
		b, err := io.ReadAll(io.LimitReader(r, msiMaxStreamSize))
		if err != nil {
			logger.Debugf("msi: stream %q read failed: %v", name, err)
			return nil
		}
		return b
	}

	pool, poolErr := parseStringPool(readStream(msiStreamStringPool), readStream(msiStreamStringData))
	if poolErr != nil {
		logger.Debugf("msi: string pool undecodable: %v", poolErr)
	}

	if pool != nil {
		schemas := readColumnCatalog(readStream(msiStreamColumns), pool)
		decodePropertyTable(readStream(msiTableStreamPrefix+"Property"), pool, schemas["Property"], f)
		countTableRows(schemas, readStream, f)
	}

	parseSummaryInfo(readStream(msiStreamSummaryInfo), f)
	detectMSIFramework(data, f)

	return f, nil
}

// decodePropertyTable resolves the Property table's two string columns and
// projects well-known property names onto canonical fields.
func decodePropertyTable(stream []byte, pool *msiStringPool, schema []msiColumn, f Fields) {
	if stream == nil {
		return
	}
	if schema == nil {
		// no _Columns row for Property; its layout is fixed anyway
		schema = []msiColumn{
			{name: "Property", stringRef: true},
			{name: "Value", stringRef: true},
		}
	}
	rows, err := readTableRows(stream, schema, pool)
	if err != nil {
		logger.Debugf("msi: Property table undecodable: %v", err)
		return
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		name, value := row[0], row[1]
		if canonical, ok := msiPropertyFields[name]; ok {
			f.Set(canonical, value)
		}
	}
}

// countTableRows reports row counts for the content tables whose layout was
// learned from _Columns. The count is stream size over row width; the rows
// themselves are not materialized.
func countTableRows(schemas map[string][]msiColumn, readStream func(string) []byte, f Fields) {
	for table, field := range msiCountedTables {
		schema, ok := schemas[table]
		if !ok {
			continue
		}
		stream := readStream(msiTableStreamPrefix + table)
		if stream == nil {
			continue
		}
		width := rowWidth(schema)
		if width == 0 {
			continue
		}
		f.SetInt(field, int64(len(stream)/width))
	}
}

// detectMSIFramework is a best-effort scan for authoring-tool markers. No
// recognizable marker leaves the field unset.
func detectMSIFramework(data []byte, f Fields) {
	switch {
	case bytes.Contains(data, []byte("WixToolset")) ||
		bytes.Contains(data, []byte("WiX Toolset")) ||
		bytes.Contains(data, []byte("Windows Installer XML")):
		f.Set(FieldInstallerFramework, "WiX Toolset")
	case bytes.Contains(data, []byte("InstallShield")):
		f.Set(FieldInstallerFramework, "InstallShield")
	case bytes.Contains(data, []byte("Advanced Installer")):
		f.Set(FieldInstallerFramework, "Advanced Installer")
	}
}

// msiArchFromTemplate maps the platform half of the summary Template
// property ("x64;1033") onto the canonical architecture names.
func msiArchFromTemplate(template string) string {
	platform := template
	if i := strings.IndexByte(template, ';'); i >= 0 {
		platform = template[:i]
	}
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "intel":
		return "x86"
	case "x64", "amd64":
		return "x64"
	case "intel64":
		return "IA64"
	case "arm64":
		return "ARM64"
	}
	return ""
}
