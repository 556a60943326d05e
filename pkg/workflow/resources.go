package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shouni/go-slide-kit/pkg/compositor"
	"github.com/shouni/go-slide-kit/pkg/manifest"

	"github.com/patrickmn/go-cache"
)

// resources はマニフェストとテンプレートデッキを実行間で共有するキャッシュなのだ。
// どちらも読み取り専用なので、並列実行から同じ値を参照しても安全なのだ。
type resources struct {
	manifests *cache.Cache
	templates *cache.Cache
}

func newResources() *resources {
	return &resources{
		manifests: cache.New(defaultCacheExpiration, cacheCleanupInterval),
		templates: cache.New(defaultCacheExpiration, cacheCleanupInterval),
	}
}

// fileKey はパスと更新時刻・サイズからキャッシュキーを作るのだ。
// ファイルが書き換えられたら別のキーになるので、古い内容を使い続けることはないのだ。
func fileKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("パス '%s' の解決に失敗しました: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("'%s' を参照できません: %w", path, err)
	}
	return fmt.Sprintf("%s|%d|%d", abs, info.ModTime().UnixNano(), info.Size()), nil
}

// manifest は許可リストを適用済みのマニフェストを返すのだ。
func (r *resources) manifest(src Sources) (*manifest.Manifest, error) {
	if src.ManifestPath == "" {
		return nil, fmt.Errorf("マニフェストのパスが指定されていません")
	}
	key, err := fileKey(src.ManifestPath)
	if err != nil {
		return nil, err
	}
	if src.AllowListPath != "" {
		allowKey, err := fileKey(src.AllowListPath)
		if err != nil {
			return nil, err
		}
		key += "#" + allowKey
	}

	if v, found := r.manifests.Get(key); found {
		if m, ok := v.(*manifest.Manifest); ok {
			return m, nil
		}
	}

	m, err := manifest.LoadFile(src.ManifestPath)
	if err != nil {
		return nil, err
	}
	if src.AllowListPath != "" {
		allow, err := manifest.LoadAllowList(src.AllowListPath)
		if err != nil {
			return nil, err
		}
		m = m.WithAllowList(allow)
	}
	r.manifests.Set(key, m, cache.DefaultExpiration)
	slog.Debug("マニフェストを読み込みました", "path", src.ManifestPath, "pages", m.Len())
	return m, nil
}

// template はテンプレートデッキを返すのだ。
func (r *resources) template(path string) (*compositor.Template, error) {
	if path == "" {
		return nil, fmt.Errorf("テンプレートデッキのパスが指定されていません")
	}
	key, err := fileKey(path)
	if err != nil {
		return nil, err
	}
	if v, found := r.templates.Get(key); found {
		if t, ok := v.(*compositor.Template); ok {
			return t, nil
		}
	}

	t, err := compositor.OpenTemplate(path)
	if err != nil {
		return nil, err
	}
	r.templates.Set(key, t, cache.DefaultExpiration)
	slog.Debug("テンプレートデッキを読み込みました", "path", path, "pages", t.NumPages())
	return t, nil
}
