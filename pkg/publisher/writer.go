package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// OutputWriter は成果物を保存先へ書き出すためのインターフェースです。
type OutputWriter interface {
	Write(ctx context.Context, path string, r io.Reader, contentType string) error
}

// LocalWriter はローカルファイルシステムへ書き出す OutputWriter なのだ。
// 同じディレクトリの一時ファイルへ書いてから rename するので、
// 書き込み途中のファイルが正式な名前で見えることはないのだ。
type LocalWriter struct{}

// NewLocalWriter は LocalWriter を返します。
func NewLocalWriter() *LocalWriter {
	return &LocalWriter{}
}

// Write は r の内容を path に書き出します。contentType はローカルでは使いません。
func (w *LocalWriter) Write(ctx context.Context, path string, r io.Reader, _ string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ディレクトリ '%s' の作成に失敗しました: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	// 失敗時は一時ファイルを残さないのだ
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return fmt.Errorf("'%s' の書き込みに失敗しました: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("'%s' のクローズに失敗しました: %w", path, err)
	}
	// 書き込み中にキャンセルされた場合は正式な名前に昇格させないのだ
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("'%s' への移動に失敗しました: %w", path, err)
	}
	return nil
}
