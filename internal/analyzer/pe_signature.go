package analyzer

import (
	"crypto/x509"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
)

const winCertTypePKCS7 = 0x0002

// extractSignature reads the certificate table (whose directory entry holds a
// file offset, not an RVA) and scans the embedded PKCS#7 blob for a signer
// common name. Best-effort: any failure just leaves SignedBy unset.
func (p *peFile) extractSignature(f Fields) {
	fileOff, size, ok := p.directory(peDirCertificate)
	if !ok {
		return
	}
	table, ok := binutil.Slice(p.data, int(fileOff), int(size))
	if !ok {
		return
	}
	// WIN_CERTIFICATE framing: dwLength, wRevision, wCertificateType, data
	certLen, ok := binutil.U32At(table, 0)
	if !ok || certLen < 8 || int(certLen) > len(table) {
		return
	}
	certType, _ := binutil.U16At(table, 6)
	if certType != winCertTypePKCS7 {
		return
	}
	blob := table[8:certLen]

	if cn := signerCommonName(blob); cn != "" {
		f.Set(FieldSignedBy, cn)
	}
}

// signerCommonName walks the DER blob looking for embedded X.509
// certificates. Certificates inside a PKCS#7 SignedData are plain DER
// SEQUENCEs, so candidate offsets are found by scanning for long-form
// SEQUENCE headers and letting the x509 parser arbitrate.
func signerCommonName(blob []byte) string {
	var fallback string
	for i := 0; i+4 < len(blob); i++ {
		if blob[i] != 0x30 || blob[i+1] != 0x82 {
			continue
		}
		length := 4 + int(blob[i+2])<<8 + int(blob[i+3])
		candidate, ok := binutil.Slice(blob, i, length)
		if !ok {
			continue
		}
		cert, err := x509.ParseCertificate(candidate)
		if err != nil {
			continue
		}
		cn := cert.Subject.CommonName
		if cn == "" {
			continue
		}
		if !cert.IsCA {
			return cn // leaf certificate is the signer
		}
		if fallback == "" {
			fallback = cn
		}
	}
	if fallback != "" {
		logger.Debugf("no leaf certificate found, falling back to CA subject %q", fallback)
	}
	return fallback
}
