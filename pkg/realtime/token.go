// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package realtime

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// TokenSource supplies the credential a Channel authenticates with.
// Implementations return ErrMissingCredential when no credential is stored.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource holding a fixed token.
type StaticToken string

// Token returns t, or ErrMissingCredential if t is blank.
func (t StaticToken) Token() (string, error) {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// FileToken is a TokenSource reading the token stored at the named path.
// The file is read on every call, so a token replaced on disk is picked up by the next reconnect.
type FileToken string

// Token reads the token file.
func (path FileToken) Token() (string, error) {
	data, err := os.ReadFile(string(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrMissingCredential
		}
		return "", errors.Wrap(err, "Read token file")
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// SaveToken stores token at path, readable only by the current user.
func SaveToken(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("Token is blank")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "Create token directory")
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return errors.Wrap(err, "Write token file")
	}
	return nil
}
