// Package signing signs exported repository metadata through the remote
// signing service.
package signing

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
	"github.com/e2llm/rpmrepo-export/pkg/catalog"
	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/sched"
)

const (
	repomdName = "repomd.xml"
	ascName    = "repomd.xml.asc"
)

// ErrNoKey is returned when no signing key is available for a repository.
var ErrNoKey = faults.Configuration("missing GPG key")

// Server is the signing service.
type Server interface {
	Token(ctx context.Context) (string, error)
	Sign(ctx context.Context, token, keyID, filename string, content []byte) ([]byte, error)
}

// Target is one repodata directory to sign.
type Target struct {
	RepodataDir string
	KeyID       string
}

// Outcome reports whether a target was signed.
type Outcome struct {
	Target Target
	Signed bool
	Err    error
}

// Coordinator authenticates once per run and signs every target.
type Coordinator struct {
	server Server
	io     *sched.IO
	keys   []catalog.SignKey
	logger *log.Entry

	once  sync.Once
	token string
	err   error
}

// New returns a coordinator choosing keys from keys in order.
func New(server Server, io *sched.IO, keys []catalog.SignKey, logger *log.Entry) *Coordinator {
	return &Coordinator{server: server, io: io, keys: keys, logger: logger}
}

// Authenticate obtains the run token. Only the first call reaches the
// service; later calls return the same result.
func (c *Coordinator) Authenticate(ctx context.Context) (string, error) {
	c.once.Do(func() {
		c.token, c.err = c.server.Token(ctx)
	})
	return c.token, c.err
}

// SelectKey returns the first configured key authorizing platformID.
func (c *Coordinator) SelectKey(platformID int64) (string, bool) {
	return SelectKey(platformID, c.keys)
}

// SelectKey returns the first key in keys authorizing platformID.
func SelectKey(platformID int64, keys []catalog.SignKey) (string, bool) {
	for _, k := range keys {
		for _, id := range k.PlatformIDs {
			if id == platformID {
				return k.KeyID, true
			}
		}
	}
	return "", false
}

// Sign signs <repodataDir>/repomd.xml with keyID and writes the detached
// armored signature next to it.
func (c *Coordinator) Sign(ctx context.Context, repodataDir, keyID, token string) error {
	logger := c.logger.WithField("repodata", repodataDir)
	if keyID == "" {
		logger.Warnf("cannot sign %s, %v", repomdName, ErrNoKey)
		return fmt.Errorf("%s: %w", repodataDir, ErrNoKey)
	}
	dir := backend.NewFSBackend(repodataDir)
	ok, err := dir.Exists(ctx, repomdName)
	if err == nil && !ok {
		err = faults.DataIntegrity(fmt.Errorf("%s not found", repomdName), "unsigned repodata")
	}
	var content []byte
	if err == nil {
		content, err = dir.ReadFile(ctx, repomdName)
	}
	if err != nil {
		logger.WithError(err).Errorf("cannot read %s", repomdName)
		return err
	}
	sig, err := c.server.Sign(ctx, token, keyID, repomdName, content)
	if err == nil {
		err = validateSignature(sig)
	}
	if err != nil {
		logger.WithError(err).WithField("keyid", keyID).Errorf("%s failed to sign", repomdName)
		return err
	}
	if err := dir.WriteFile(ctx, ascName, sig); err != nil {
		logger.WithError(err).Errorf("cannot write %s", ascName)
		return err
	}
	logger.WithField("keyid", keyID).Infof("%s is signed", repomdName)
	return nil
}

// SignAll signs every target concurrently. When authentication fails every
// target stays unsigned.
func (c *Coordinator) SignAll(ctx context.Context, targets []Target) []Outcome {
	token, err := c.Authenticate(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("cannot authenticate to the signing service, repositories stay unsigned")
		out := make([]Outcome, len(targets))
		for i, t := range targets {
			out[i] = Outcome{Target: t, Err: err}
		}
		return out
	}
	return sched.Gather(ctx, c.io, targets, func(ctx context.Context, t Target) Outcome {
		err := c.Sign(ctx, t.RepodataDir, t.KeyID, token)
		return Outcome{Target: t, Signed: err == nil, Err: err}
	})
}

// validateSignature accepts an armored block holding a signature packet.
func validateSignature(data []byte) error {
	block, err := armor.Decode(bytes.NewReader(data))
	if err != nil {
		return faults.DataIntegrity(err, "signing service returned no armored data")
	}
	if block.Type != "PGP SIGNATURE" {
		return faults.DataIntegrity(fmt.Errorf("armor type %q", block.Type), "signing service returned no signature")
	}
	p, err := packet.NewReader(block.Body).Next()
	if err != nil {
		return faults.DataIntegrity(err, "malformed signature")
	}
	if _, ok := p.(*packet.Signature); !ok {
		return faults.DataIntegrity(fmt.Errorf("packet %T", p), "malformed signature")
	}
	return nil
}
