package inspector

import (
	"fmt"
	"io"
	"os"

	"github.com/cavaliergopher/rpm"
)

// Signature header slots, in lookup order. GPG and PGP cover header plus
// payload; rpm 4.16 and later writes only the header-only RSA or DSA slot.
const (
	TagGPG = 1005
	TagPGP = 1002
	TagRSA = 268
	TagDSA = 267
)

var signatureSlots = []int{TagGPG, TagPGP, TagRSA, TagDSA}

// Header is the part of an RPM needed to judge its signature.
type Header struct {
	Name    string
	Epoch   int
	Version string
	Release string
	Arch    string
	// Signature is the raw OpenPGP packet stream from the first non-empty
	// slot; nil when the package is unsigned.
	Signature []byte
	// SignatureTag names the slot Signature came from.
	SignatureTag int
}

func (h Header) NEVRA() string {
	epochPart := ""
	if h.Epoch > 0 {
		epochPart = fmt.Sprintf("%d:", h.Epoch)
	}
	return fmt.Sprintf("%s-%s%s-%s.%s", h.Name, epochPart, h.Version, h.Release, h.Arch)
}

// Read parses the lead and both headers from r. The payload is never read.
func Read(r io.Reader) (Header, error) {
	pkg, err := rpm.Read(r)
	if err != nil {
		return Header{}, fmt.Errorf("parse rpm header: %w", err)
	}
	out := Header{
		Name:    pkg.Name(),
		Epoch:   pkg.Epoch(),
		Version: pkg.Version(),
		Release: pkg.Release(),
		Arch:    pkg.Architecture(),
	}
	out.SignatureTag, out.Signature = signatureFrom(&pkg.Signature)
	return out, nil
}

// ReadFile opens path and reads its headers.
func ReadFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	h, err := Read(f)
	if err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

func signatureFrom(sig *rpm.Header) (int, []byte) {
	for _, id := range signatureSlots {
		tag := sig.GetTag(id)
		if tag == nil {
			continue
		}
		if b := tag.Bytes(); len(b) > 0 {
			return id, b
		}
	}
	return 0, nil
}
