// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package input

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadManifest decodes a YAML manifest describing a Binary. Unknown
// fields are an error.
func LoadManifest(r io.Reader) (*Binary, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var b Binary
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &b, nil
}

// WriteManifest encodes b as YAML.
func WriteManifest(w io.Writer, b *Binary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return err
	}
	return enc.Close()
}
