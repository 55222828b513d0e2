package gitops

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Signer produces an armored detached signature over an encoded git object.
type Signer interface {
	Sign(message io.Reader) (string, error)
}

type ArmoredKeySigner struct {
	entity *openpgp.Entity
}

func LoadArmoredKeySigner(path, passphrase string) (*ArmoredKeySigner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signing key: %w", err)
	}
	defer f.Close()
	return NewArmoredKeySigner(f, passphrase)
}

func NewArmoredKeySigner(r io.Reader, passphrase string) (*ArmoredKeySigner, error) {
	entities, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("signing key ring is empty")
	}

	entity := entities[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("signing key has no private part")
	}
	if entity.PrivateKey.Encrypted {
		if passphrase == "" {
			return nil, fmt.Errorf("signing key is encrypted and no passphrase was given")
		}
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("decrypt signing key: %w", err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("decrypt signing subkey: %w", err)
			}
		}
	}

	return &ArmoredKeySigner{entity: entity}, nil
}

func (s *ArmoredKeySigner) Sign(message io.Reader) (string, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.entity, message, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}
