package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

const (
	// A table string property holds at most 64 KiB of UTF-16; 32 KiB of UTF-8 always fits.
	chunkBytes = 32 * 1024
	maxChunks  = 24
	edmInt64   = "Edm.Int64"
)

// Tables stores one entity per board in Azure Table Storage.
// PartitionKey is the project id, RowKey the board name.
type Tables struct {
	table *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, boardsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(boardsTable)}, nil
}

// EnsureTable creates the boards table when it does not exist yet.
func (s *Tables) EnsureTable(ctx context.Context) error {
	_, err := s.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}

// Load fetches and decodes the board entity.
func (s *Tables) Load(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	resp, err := s.table.GetEntity(ctx, tableKey(key.ProjectID), tableKey(key.BoardName), nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.Board{}, &domain.NotFoundError{Key: key}
		}
		return domain.Board{}, err
	}
	return decodeBoardEntity(key, resp.Value)
}

// Save replaces the board entity.
func (s *Tables) Save(ctx context.Context, b domain.Board) error {
	payload, err := encodeBoardEntity(b)
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// Create inserts a new board entity.
func (s *Tables) Create(ctx context.Context, b domain.Board) error {
	payload, err := encodeBoardEntity(b)
	if err != nil {
		return err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			return domain.ErrBoardExists
		}
		return err
	}
	return nil
}

// tableKey escapes the characters Table Storage forbids in keys.
func tableKey(v string) string {
	return url.PathEscape(v)
}

func chunkProperty(i int) string {
	return fmt.Sprintf("Board%02d", i)
}

func encodeBoardEntity(b domain.Board) ([]byte, error) {
	data, err := encodeBoard(b)
	if err != nil {
		return nil, err
	}
	chunks := splitChunks(string(data), chunkBytes)
	if len(chunks) > maxChunks {
		return nil, fmt.Errorf("board %s is too large for table storage (%d bytes)", b.BoardKey, len(data))
	}
	ent := map[string]any{
		"PartitionKey":       tableKey(b.ProjectID),
		"RowKey":             tableKey(b.BoardName),
		"Chunks":             len(chunks),
		"Version":            strconv.FormatInt(b.Version, 10),
		"Version@odata.type": edmInt64,
	}
	for i, c := range chunks {
		ent[chunkProperty(i)] = c
	}
	return sonic.Marshal(ent)
}

func decodeBoardEntity(key domain.BoardKey, data []byte) (domain.Board, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return domain.Board{}, fmt.Errorf("decode board entity %s: %w", key, err)
	}
	n, ok := raw["Chunks"].(float64)
	if !ok || n < 1 {
		return domain.Board{}, fmt.Errorf("board entity %s has no chunks", key)
	}
	var sb strings.Builder
	for i := 0; i < int(n); i++ {
		part, ok := raw[chunkProperty(i)].(string)
		if !ok {
			return domain.Board{}, fmt.Errorf("board entity %s is missing chunk %d", key, i)
		}
		sb.WriteString(part)
	}
	return decodeBoard(key, []byte(sb.String()))
}

// splitChunks cuts s into pieces of at most max bytes without splitting runes.
func splitChunks(s string, max int) []string {
	var out []string
	for len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}
