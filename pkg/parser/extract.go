package parser

import (
	"strconv"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
)

// Marker は段落内で見つかったページ指定マーカーなのだ。
type Marker struct {
	Page  int
	Start int // 段落テキスト内のバイト位置
	End   int
}

// FindMarkers は段落テキストからマーカーを出現順に探すのだ。
func FindMarkers(text string) []Marker {
	var out []Marker
	for _, loc := range MarkerRegex.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, Marker{Page: n, Start: loc[0], End: loc[1]})
	}
	return out
}

// ExtractMetadata は段落がメタデータ宣言ならキーと値を返すのだ。
func ExtractMetadata(text string) (key, value string, ok bool) {
	m := MetadataRegex.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", false
	}
	key, ok = domain.NormalizeMetadataKey(m[1])
	if !ok {
		return "", "", false
	}
	value = strings.TrimSpace(m[2])
	if value == "" {
		return "", "", false
	}
	return key, value, true
}
