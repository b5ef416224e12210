package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// Table 简单表格输出，列宽按终端显示宽度计算（中文占两列）
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable 创建表格
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	return &Table{headers: headers, widths: widths}
}

// AddRow 添加行，多余的列会被忽略
func (t *Table) AddRow(cells ...string) {
	for i, cell := range cells {
		if i < len(t.widths) {
			if n := runewidth.StringWidth(cell); n > t.widths[i] {
				t.widths[i] = n
			}
		}
	}
	t.rows = append(t.rows, cells)
}

// Len 数据行数
func (t *Table) Len() int {
	return len(t.rows)
}

// Render 输出到标准输出
func (t *Table) Render() {
	t.RenderTo(color.Output)
}

// RenderTo 输出到指定writer
func (t *Table) RenderTo(w io.Writer) {
	header := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		header.Fprint(w, pad(h, t.widths[i]))
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", t.widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprint(w, pad(cell, t.widths[i]))
			}
		}
		fmt.Fprintln(w)
	}
}

func pad(s string, width int) string {
	return runewidth.FillRight(s, width) + "  "
}

// Truncate 按显示宽度截断过长文本
func Truncate(s string, max int) string {
	if max <= 3 {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
