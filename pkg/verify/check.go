package verify

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/inspector"
)

// Check classifies the package at path against keys.
func Check(path string, keys KeySet, subkeys *Subkeys) Result {
	h, err := inspector.ReadFile(path)
	if err != nil {
		return Result{Path: path, Status: ReadError, Err: faults.DataIntegrity(err, "read package header")}
	}
	return classify(path, h.Signature, keys, subkeys)
}

func classify(path string, sig []byte, keys KeySet, subkeys *Subkeys) Result {
	if len(sig) == 0 {
		return Result{Path: path, Status: NoSignature, Err: faults.Policy("%s has no signature", path)}
	}
	issuers, err := issuers(sig)
	if err != nil {
		return Result{Path: path, Status: ReadError, Err: faults.DataIntegrity(err, "parse signature block")}
	}
	var last string
	for _, id := range issuers {
		last = id
		if keys.Has(id) {
			return Result{Path: path, Status: Success, Signer: id}
		}
		for _, parent := range subkeys.Parents(id) {
			if keys.Has(parent) {
				return Result{Path: path, Status: Success, Signer: parent}
			}
		}
	}
	return Result{Path: path, Status: WrongSignature, Signer: last, Err: faults.Policy("%s signed by untrusted key %s", path, last)}
}

// issuers returns the lower-case 16 hex digit issuer key id of every
// signature packet in sig. Version 3 packets, which go-crypto no longer
// parses, are read directly: their issuer is the 8 bytes at body offset 7.
func issuers(sig []byte) ([]string, error) {
	var out []string
	for len(sig) > 0 {
		tag, packetLen, bodyOff, err := packetHeader(sig)
		if err != nil {
			return nil, err
		}
		raw, body := sig[:packetLen], sig[bodyOff:packetLen]
		sig = sig[packetLen:]
		if tag != tagSignature {
			continue
		}
		if len(body) > 0 && body[0] == 3 {
			if len(body) < 15 {
				return nil, errors.New("truncated v3 signature packet")
			}
			out = append(out, fmt.Sprintf("%x", body[7:15]))
			continue
		}
		p, err := packet.Read(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		if s, ok := p.(*packet.Signature); ok {
			if id, ok := issuerOf(s); ok {
				out = append(out, id)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no signature packets with an issuer")
	}
	return out, nil
}

const tagSignature = 2

// packetHeader decodes the OpenPGP packet header at the start of b (RFC 4880
// section 4.2). Partial body lengths are not used by signature packets and
// are rejected.
func packetHeader(b []byte) (tag, packetLen, bodyOff int, err error) {
	if b[0]&0x80 == 0 {
		return 0, 0, 0, fmt.Errorf("invalid packet header 0x%02x", b[0])
	}
	var bodyLen int
	if b[0]&0x40 == 0 {
		tag = int(b[0]>>2) & 0x0f
		switch b[0] & 0x03 {
		case 0:
			bodyOff = 2
		case 1:
			bodyOff = 3
		case 2:
			bodyOff = 5
		default:
			return tag, len(b), 1, nil
		}
		if len(b) < bodyOff {
			return 0, 0, 0, io.ErrUnexpectedEOF
		}
		for _, c := range b[1:bodyOff] {
			bodyLen = bodyLen<<8 | int(c)
		}
	} else {
		tag = int(b[0] & 0x3f)
		if len(b) < 2 {
			return 0, 0, 0, io.ErrUnexpectedEOF
		}
		switch o := int(b[1]); {
		case o < 192:
			bodyOff, bodyLen = 2, o
		case o < 224:
			if len(b) < 3 {
				return 0, 0, 0, io.ErrUnexpectedEOF
			}
			bodyOff, bodyLen = 3, (o-192)<<8+int(b[2])+192
		case o == 255:
			if len(b) < 6 {
				return 0, 0, 0, io.ErrUnexpectedEOF
			}
			bodyOff, bodyLen = 6, int(b[2])<<24|int(b[3])<<16|int(b[4])<<8|int(b[5])
		default:
			return 0, 0, 0, errors.New("partial body length in signature block")
		}
	}
	if bodyLen < 0 || len(b)-bodyOff < bodyLen {
		return 0, 0, 0, io.ErrUnexpectedEOF
	}
	return tag, bodyOff + bodyLen, bodyOff, nil
}

func issuerOf(s *packet.Signature) (string, bool) {
	if s.IssuerKeyId != nil {
		return fmt.Sprintf("%016x", *s.IssuerKeyId), true
	}
	if n := len(s.IssuerFingerprint); n >= 8 {
		return fmt.Sprintf("%x", s.IssuerFingerprint[n-8:]), true
	}
	return "", false
}
