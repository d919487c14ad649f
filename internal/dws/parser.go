/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dws turns the raw lines a dimension/weight scanner emits into model.DwsData.
package dws

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/protocol"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// DefaultTemplate is the field order most scanners ship with.
const DefaultTemplate = "{Code},{Weight},{Length},{Width},{Height},{Volume},{Timestamp}"

// Field names recognised in templates and JSON payloads.
const (
	FieldCode      = "code"
	FieldWeight    = "weight"
	FieldLength    = "length"
	FieldWidth     = "width"
	FieldHeight    = "height"
	FieldVolume    = "volume"
	FieldTimestamp = "timestamp"
)

var (
	placeholder = regexp.MustCompile(`\{(\w+)\}`)

	aliases = map[string]string{
		"barcode":   FieldCode,
		"code":      FieldCode,
		"weight":    FieldWeight,
		"length":    FieldLength,
		"width":     FieldWidth,
		"height":    FieldHeight,
		"volume":    FieldVolume,
		"time":      FieldTimestamp,
		"timestamp": FieldTimestamp,
		"scantime":  FieldTimestamp,
	}

	timeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"20060102150405",
	}

	ErrMissingBarcode = errors.New("dws reading has no barcode")
)

// Format selects how raw payloads are read.
type Format string

const (
	FormatDelimited Format = "delimited"
	FormatJSON      Format = "json"
)

// Parser decodes scanner payloads against a template.
type Parser struct {
	format    Format
	fields    []string
	delimiter string
}

// NewParser builds a parser. An empty template uses DefaultTemplate; an empty delimiter is
// taken from the text between the template's first two placeholders.
func NewParser(format Format, template, delimiter string) (*Parser, error) {
	if format == "" {
		format = FormatDelimited
	}
	if format != FormatDelimited && format != FormatJSON {
		return nil, fmt.Errorf("unknown dws format %q", format)
	}
	if template == "" {
		template = DefaultTemplate
	}

	matches := placeholder.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("dws template %q has no {Field} placeholders", template)
	}

	p := &Parser{format: format, delimiter: delimiter}
	for _, m := range matches {
		name := strings.ToLower(template[m[2]:m[3]])
		field, ok := aliases[name]
		if !ok {
			return nil, fmt.Errorf("dws template: unknown field {%s}", template[m[2]:m[3]])
		}
		p.fields = append(p.fields, field)
	}
	if p.delimiter == "" {
		if len(matches) > 1 {
			p.delimiter = template[matches[0][1]:matches[1][0]]
		} else {
			p.delimiter = ","
		}
	}
	if format == FormatDelimited && p.delimiter == "" {
		return nil, fmt.Errorf("dws template %q needs a delimiter between fields", template)
	}
	return p, nil
}

// Parse decodes one payload. received is used when the payload carries no timestamp.
// Every failure wraps protocol.ErrProtocolDecode.
func (p *Parser) Parse(raw []byte, received time.Time) (model.DwsData, error) {
	values, err := p.values(strings.TrimSpace(string(raw)))
	if err != nil {
		return model.DwsData{}, fmt.Errorf("%w: %v", protocol.ErrProtocolDecode, err)
	}
	d, err := build(values, received)
	if err != nil {
		return model.DwsData{}, fmt.Errorf("%w: %v", protocol.ErrProtocolDecode, err)
	}
	return d, nil
}

func (p *Parser) values(payload string) (map[string]string, error) {
	if p.format == FormatJSON || strings.HasPrefix(payload, "{") {
		return jsonValues(payload)
	}

	parts := strings.Split(payload, p.delimiter)
	if len(parts) < len(p.fields) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(p.fields), len(parts))
	}
	out := make(map[string]string, len(p.fields))
	for i, field := range p.fields {
		out[field] = strings.TrimSpace(parts[i])
	}
	return out, nil
}

func jsonValues(payload string) (map[string]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc))
	for key, value := range doc {
		field, ok := aliases[strings.ToLower(key)]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			s = strings.TrimSpace(string(value))
		}
		out[field] = s
	}
	return out, nil
}

func build(values map[string]string, received time.Time) (model.DwsData, error) {
	d := model.DwsData{Barcode: values[FieldCode]}
	if d.Barcode == "" {
		return d, ErrMissingBarcode
	}

	numbers := []struct {
		field string
		dest  *float64
	}{
		{FieldWeight, &d.Weight},
		{FieldLength, &d.Length},
		{FieldWidth, &d.Width},
		{FieldHeight, &d.Height},
		{FieldVolume, &d.Volume},
	}
	for _, n := range numbers {
		v := values[n.field]
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return d, fmt.Errorf("field %s: %q is not a number", n.field, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return d, fmt.Errorf("field %s: %q is not a finite number", n.field, v)
		}
		if f < 0 {
			return d, fmt.Errorf("field %s: negative value %v", n.field, f)
		}
		*n.dest = f
	}
	if d.Volume == 0 {
		d.Volume = d.ComputedVolume()
	}

	d.ScanTime = received
	if ts := values[FieldTimestamp]; ts != "" {
		at, err := parseTimestamp(ts)
		if err != nil {
			return d, err
		}
		d.ScanTime = at
	}
	return d, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch len(s) {
		case 13:
			return time.UnixMilli(n), nil
		case 10:
			return time.Unix(n, 0), nil
		}
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
