// Package output 命令行输出：彩色消息、表格与JSON
package output

import (
	"encoding/json"
	"io"

	"github.com/fatih/color"
)

var (
	successStyle = color.New(color.FgGreen, color.Bold)
	errorStyle   = color.New(color.FgRed, color.Bold)
	infoStyle    = color.New(color.FgCyan)
	warnStyle    = color.New(color.FgYellow)
)

// PrintJSON --json 模式下的输出，写到 color.Output 以便测试替换
func PrintJSON(data interface{}) error {
	return WriteJSON(color.Output, data)
}

// WriteJSON 两空格缩进，HTML字符不转义（参数里常见URL）
func WriteJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func message(w io.Writer, style *color.Color, icon, format string, args []interface{}) {
	style.Fprintf(w, icon+" "+format+"\n", args...)
}

func Success(format string, args ...interface{}) {
	message(color.Output, successStyle, "✅", format, args)
}

// Error 错误写到stderr，不污染 --json 的stdout
func Error(format string, args ...interface{}) {
	message(color.Error, errorStyle, "❌", format, args)
}

func Info(format string, args ...interface{}) {
	message(color.Output, infoStyle, "ℹ️ ", format, args)
}

func Warning(format string, args ...interface{}) {
	message(color.Output, warnStyle, "⚠️ ", format, args)
}
