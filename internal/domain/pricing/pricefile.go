package pricing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// PriceFile is the YAML document accepted by the prices import command:
//
//	services:
//	  - code: CONS
//	    name: Consultation
//	    price: "10000"
type PriceFile struct {
	Services []ServicePrice `yaml:"services"`
}

// ParsePriceFile decodes and validates a price file. Unknown keys, duplicate
// codes and negative prices are rejected.
func ParsePriceFile(r io.Reader) ([]ServicePrice, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f PriceFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode price file: %w", err)
	}

	seen := make(map[string]bool, len(f.Services))
	for i := range f.Services {
		sp := &f.Services[i]
		sp.ServiceCode = strings.TrimSpace(sp.ServiceCode)
		sp.ServiceName = strings.TrimSpace(sp.ServiceName)
		switch {
		case sp.ServiceCode == "":
			return nil, fmt.Errorf("service %d: code is required", i+1)
		case sp.ServiceName == "":
			return nil, fmt.Errorf("service %s: name is required", sp.ServiceCode)
		case seen[sp.ServiceCode]:
			return nil, fmt.Errorf("service %s: duplicate code", sp.ServiceCode)
		case sp.Price.IsNegative():
			return nil, fmt.Errorf("service %s: %w", sp.ServiceCode, ErrInvalidPrice)
		}
		seen[sp.ServiceCode] = true
		sp.Price = RoundMoney(sp.Price)
	}
	return f.Services, nil
}
