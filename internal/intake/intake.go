// Package intake reads claim validation requests from disk, checks them
// against the request schema and decodes them into evaluator input.
package intake

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/crewclaims/internal/model"
)

//go:embed request.schema.json
var requestSchema string

const schemaURL = "https://crewclaims.local/schemas/request.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(requestSchema)); err != nil {
			schemaErr = fmt.Errorf("request schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("request schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Format is the encoding of a request document
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath guesses the encoding from the file extension
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads a single request file (JSON or YAML)
func Load(path string) (model.AgentInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AgentInput{}, fmt.Errorf("read request: %w", err)
	}
	input, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return model.AgentInput{}, fmt.Errorf("%s: %w", path, err)
	}
	return input, nil
}

// Parse validates and decodes one request document
func Parse(data []byte, format Format) (model.AgentInput, error) {
	if format == FormatYAML {
		var err error
		data, err = yamlToJSON(data)
		if err != nil {
			return model.AgentInput{}, err
		}
	}

	s, err := schema()
	if err != nil {
		return model.AgentInput{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return model.AgentInput{}, fmt.Errorf("decode request: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return model.AgentInput{}, fmt.Errorf("request schema validation failed: %w", err)
	}

	var input model.AgentInput
	if err := json.Unmarshal(data, &input); err != nil {
		return model.AgentInput{}, fmt.Errorf("decode request: %w", err)
	}
	return input, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml request: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml request: %w", err)
	}
	return out, nil
}

// ReadRequestsFile reads JSON-lines requests, one per line. Blank lines and
// lines starting with # are skipped; repeated claim ids keep the first one.
func ReadRequestsFile(path string) ([]model.AgentInput, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var inputs []model.AgentInput
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		input, err := Parse([]byte(line), FormatJSON)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		if !seen[input.Claim.ID] {
			seen[input.Claim.ID] = true
			inputs = append(inputs, input)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return inputs, nil
}
