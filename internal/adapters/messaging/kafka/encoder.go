package kafka

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/sr"

	"payments-datagen/internal/config"
	"payments-datagen/internal/core/domain"
)

// Encoder turns a sale into a record value.
type Encoder interface {
	Encode(sale domain.Sale) ([]byte, error)
}

// JSONEncoder writes plain JSON values.
type JSONEncoder struct{}

func (JSONEncoder) Encode(sale domain.Sale) ([]byte, error) {
	return json.Marshal(sale)
}

// RegistryEncoder writes JSON values framed with the schema registry wire header
// (magic byte and schema id).
type RegistryEncoder struct {
	serde    sr.Serde
	schemaID int
}

// NewRegistryEncoder resolves the schema id for the configured subject.
// With auto registration off it never writes to the registry.
func NewRegistryEncoder(ctx context.Context, cfg config.SchemaRegistryConfig) (*RegistryEncoder, error) {
	opts := []sr.ClientOpt{sr.URLs(cfg.URL)}
	if cfg.Username != "" {
		opts = append(opts, sr.BasicAuth(cfg.Username, cfg.Password))
	}
	client, err := sr.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema registry client: %w", err)
	}

	local := sr.Schema{Schema: SaleSchema, Type: sr.TypeJSON}

	var ss sr.SubjectSchema
	switch {
	case cfg.AutoRegisterSchemas:
		ss, err = client.CreateSchema(ctx, cfg.Subject, local)
	case cfg.UseLatest():
		ss, err = client.SchemaByVersion(ctx, cfg.Subject, -1)
	default:
		ss, err = client.LookupSchema(ctx, cfg.Subject, local)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema for subject %s: %w", cfg.Subject, err)
	}

	// A registered schema of another type would label JSON bytes with its id.
	if !cfg.AutoRegisterSchemas && ss.Schema.Type != sr.TypeJSON {
		return nil, fmt.Errorf("schema %d of subject %s has type %v, values are written as JSON", ss.ID, cfg.Subject, ss.Schema.Type)
	}

	if cfg.LatestCompatibilityStrict && !cfg.AutoRegisterSchemas {
		same, err := sameSchema(ss.Schema.Schema, SaleSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to compare schema for subject %s: %w", cfg.Subject, err)
		}
		if !same {
			return nil, fmt.Errorf("schema %d of subject %s does not match the sale schema", ss.ID, cfg.Subject)
		}
	}

	e := &RegistryEncoder{schemaID: ss.ID}
	e.serde.Register(ss.ID, domain.Sale{}, sr.EncodeFn(func(v any) ([]byte, error) {
		return json.Marshal(v)
	}))
	return e, nil
}

// SchemaID is the registry id written into every value.
func (e *RegistryEncoder) SchemaID() int {
	return e.schemaID
}

func (e *RegistryEncoder) Encode(sale domain.Sale) ([]byte, error) {
	return e.serde.Encode(sale)
}

// DecodeSale reads a value written by either encoder. The schema id is 0 for
// plain JSON values.
func DecodeSale(value []byte) (domain.Sale, int, error) {
	var sale domain.Sale
	id := 0
	if len(value) >= 5 && value[0] == 0 {
		id = int(binary.BigEndian.Uint32(value[1:5]))
		value = value[5:]
	}
	if err := json.Unmarshal(value, &sale); err != nil {
		return domain.Sale{}, id, fmt.Errorf("failed to decode sale: %w", err)
	}
	return sale, id, nil
}

func sameSchema(a, b string) (bool, error) {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, []byte(a)); err != nil {
		return false, err
	}
	if err := json.Compact(&cb, []byte(b)); err != nil {
		return false, err
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes()), nil
}
