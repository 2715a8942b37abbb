package analyzer

import "github.com/deploymenttheory/go-installer-metadata/internal/sniff"

// Fields is one analysis result: an open mapping from canonical field name to
// value. Absence of a key means absence of data; decoders never store null or
// empty-string placeholders.
type Fields map[string]interface{}

// Canonical field names shared across decoders. Each extracted fact is carried
// by exactly one of these; decoders pick the single best-fit key and the
// normalizer strips accidental duplicates.
const (
	FieldFormat             = "Format"
	FieldArchitecture       = "Architecture"
	FieldProductName        = "ProductName"
	FieldProductVersion     = "ProductVersion"
	FieldManufacturer       = "Manufacturer"
	FieldPublisher          = "Publisher"
	FieldCompanyName        = "CompanyName"
	FieldVendor             = "Vendor"
	FieldMaintainer         = "Maintainer"
	FieldProductCode        = "ProductCode"
	FieldUpgradeCode        = "UpgradeCode"
	FieldPackageCode        = "PackageCode"
	FieldTitle              = "Title"
	FieldComments           = "Comments"
	FieldKeywords           = "Keywords"
	FieldLicense            = "License"
	FieldInstallerFramework = "InstallerFramework"
	FieldInstallerType      = "InstallerType"
	FieldSignedBy           = "SignedBy"
	FieldFileVersion        = "FileVersion"
	FieldDescription        = "Description"
)

// Set stores a string value, skipping empty strings.
func (f Fields) Set(key, value string) {
	if value != "" {
		f[key] = value
	}
}

// SetInt stores an integer value.
func (f Fields) SetInt(key string, value int64) {
	f[key] = value
}

// SetBool stores a boolean value.
func (f Fields) SetBool(key string, value bool) {
	f[key] = value
}

// publisherKeys is the alias group for "who made this". When two of these
// carry the same value, only the format's primary key survives.
var publisherKeys = []string{
	FieldManufacturer, FieldPublisher, FieldCompanyName, FieldVendor, FieldMaintainer,
}

// versionKeys is the alias group for the product's version string.
var versionKeys = []string{FieldProductVersion, FieldFileVersion}

// primaryPublisherKey maps each format to the canonical carrier for the
// publisher fact.
var primaryPublisherKey = map[sniff.Format]string{
	sniff.FormatPE:  FieldCompanyName,
	sniff.FormatMSI: FieldManufacturer,
	sniff.FormatDMG: FieldPublisher,
	sniff.FormatDEB: FieldMaintainer,
	sniff.FormatRPM: FieldVendor,
}

// normalize projects a decoder's raw output onto the canonical schema: the
// Format tag is set, empty strings are dropped, and alias groups collapse
// onto the format's primary key.
func normalize(format sniff.Format, f Fields) Fields {
	for k, v := range f {
		if s, ok := v.(string); ok && s == "" {
			delete(f, k)
		}
	}
	f[FieldFormat] = string(format)

	collapse(f, publisherKeys, primaryPublisherKey[format])
	collapse(f, versionKeys, FieldProductVersion)
	return f
}

// collapse removes keys in group whose value duplicates another member,
// keeping primary (or the first member present when primary itself is absent).
func collapse(f Fields, group []string, primary string) {
	keep := primary
	if _, ok := f[keep]; !ok {
		keep = ""
		for _, k := range group {
			if _, ok := f[k]; ok {
				keep = k
				break
			}
		}
	}
	if keep == "" {
		return
	}
	kept := f[keep]
	for _, k := range group {
		if k == keep {
			continue
		}
		if v, ok := f[k]; ok && v == kept {
			delete(f, k)
		}
	}
}
