package parser

import "regexp"

var (
	// MarkerRegex は "【PPT3】" や "[PPT3]" 形式のページ指定マーカーをキャプチャします。
	MarkerRegex = regexp.MustCompile(`(?i)[【\[]\s*PPT\s*(\d+)\s*[】\]]`)

	// MetadataRegex は "课程名称：数据结构" や "course: X" 形式のメタデータ行をキャプチャします。
	MetadataRegex = regexp.MustCompile(`(?i)^(课程名称|学院名称|主讲教师|course|college|lecturer)\s*[：:]\s*(.+)$`)

	// ImageRefRegex は注釈付き原稿内の "[图片资源: doc_image_1.png]" をキャプチャします。
	ImageRefRegex = regexp.MustCompile(`\[图片资源[:：]\s*([^\]]+)\]`)

	// MarkdownImageRegex はテキスト原稿の "![説明](path)" をキャプチャします。
	MarkdownImageRegex = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
)
