// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/radiotel/ingestd/internal/ccalog"
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadEmbedded(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Host + u.Path)
}

func init() {
	jsonschema.Loaders["embedfs"] = loadEmbedded
}

// Validate checks r against the parset schema before it is unmarshalled.
func Validate(r io.Reader) error {
	s, err := jsonschema.Compile("embedfs://schemas/parset.schema.json")
	if err != nil {
		return fmt.Errorf("compile parset schema: %w", err)
	}

	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		ccalog.Errorf("config: failed to decode parset for validation: %v", err)
		return err
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("parset validation: %v", err)
	}
	return nil
}
