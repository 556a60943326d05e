package asset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/go-utils/urlpath"
)

const (
	// DefaultImageDir は原稿から抽出した画像を格納するデフォルトのディレクトリ名です。
	DefaultImageDir = "images"
	// DefaultContractJSON はパイプライン JSON 契約のデフォルトファイル名です。
	DefaultContractJSON = "config.json"
	// DefaultAnnotatedScript はプランナーが書き直したマーカー付き原稿のファイル名です。
	DefaultAnnotatedScript = "preprocessed_script.md"
	// DefaultDeckName は出力デッキのデフォルトファイル名です。
	DefaultDeckName = "slides.pptx"
	// DefaultRunPrefix は実行ディレクトリ名の接頭辞なのだ。
	DefaultRunPrefix = "run-"
)

// runTimeLayout は実行ディレクトリ名に埋め込む時刻の書式なのだ。
const runTimeLayout = "20060102-150405"

// RunDirRegex は run-YYYYMMDD-HHMMSS-xxxx 形式のディレクトリ名に一致します。
var RunDirRegex = regexp.MustCompile(`^` + regexp.QuoteMeta(DefaultRunPrefix) + `\d{8}-\d{6}-[0-9a-f]{4}$`)

// RunDir は1回の実行に割り当てられた作業ディレクトリなのだ。
// 実行ごとに別ディレクトリになるので、並列実行でも成果物が混ざらないのだ。
type RunDir struct {
	Path string
}

// NewRunDir は base の下に新しい実行ディレクトリを作成します。
func NewRunDir(base string) (RunDir, error) {
	return newRunDirAt(base, time.Now())
}

func newRunDirAt(base string, now time.Time) (RunDir, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return RunDir{}, fmt.Errorf("作業ディレクトリ '%s' の作成に失敗しました: %w", base, err)
	}

	// 同じ秒に複数の実行が始まっても衝突しないよう、UUID の先頭を接尾辞に使うのだ
	for range 8 {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
		dir := filepath.Join(base, DefaultRunPrefix+now.Format(runTimeLayout)+"-"+suffix)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return RunDir{Path: dir}, nil
		}
		if !os.IsExist(err) {
			return RunDir{}, fmt.Errorf("実行ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return RunDir{}, fmt.Errorf("実行ディレクトリ名が衝突し続けたため作成できませんでした: %s", base)
}

// Name は実行ディレクトリのベース名（実行 ID として使う）を返すのだ。
func (d RunDir) Name() string {
	return filepath.Base(d.Path)
}

// File は実行ディレクトリ内のファイルパスを解決するのだ。
func (d RunDir) File(name string) (string, error) {
	return ResolveOutputPath(d.Path, name)
}

// Remove は実行ディレクトリを丸ごと削除します。
func (d RunDir) Remove() error {
	if d.Path == "" {
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return fmt.Errorf("実行ディレクトリ '%s' の削除に失敗しました: %w", d.Path, err)
	}
	return nil
}

// ResolveOutputPath は、ベースとなるディレクトリパスとファイル名から、
// GCS/ローカルを考慮した最終的な出力パスを生成します。
func ResolveOutputPath(baseDir, fileName string) (string, error) {
	return urlpath.ResolvePath(baseDir, fileName)
}
