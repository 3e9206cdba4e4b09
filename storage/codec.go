package storage

import (
	"fmt"
	"net/url"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

func encodeBoard(b domain.Board) ([]byte, error) {
	b.Normalize()
	data, err := sonic.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode board %s: %w", b.BoardKey, err)
	}
	return data, nil
}

func decodeBoard(key domain.BoardKey, data []byte) (domain.Board, error) {
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		return domain.Board{}, fmt.Errorf("decode board %s: %w", key, err)
	}
	b.BoardKey = key
	b.Normalize()
	return b, nil
}

// redisKey joins prefix and the escaped key parts. Escaping keeps keys such
// as ("a:b","c") and ("a","b:c") apart.
func redisKey(prefix string, key domain.BoardKey) string {
	return prefix + ":" + url.QueryEscape(key.ProjectID) + ":" + url.QueryEscape(key.BoardName)
}
