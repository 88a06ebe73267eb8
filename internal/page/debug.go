package page

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"unicode"
)

// asciiPreview renders b with non-printable bytes replaced by '.'.
func asciiPreview(b []byte) string {
	var buf bytes.Buffer
	for _, c := range b {
		r := rune(c)
		if unicode.IsPrint(r) && r != '\n' && r != '\r' && r != '\t' {
			buf.WriteRune(r)
		} else {
			buf.WriteByte('.')
		}
	}
	return buf.String()
}

const debugPreviewLen = 32

func previewOf(b []byte) []byte {
	if len(b) > debugPreviewLen {
		return b[:debugPreviewLen]
	}
	return b
}

// DebugString renders p's cells for troubleshooting and test assertions.
func (p *LeafPage) DebugString() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "=== Leaf Page Debug ===\n")
	fmt.Fprintf(&b, "rightSibling=%d numCells=%d\n", p.RightSibling, len(p.Cells))
	for i, c := range p.Cells {
		prev := previewOf(c.InlineValue)
		fmt.Fprintf(&b, "[%d] key=%d inlineLen=%d totalLen=%d overflowHead=%d\n",
			i, c.Key, len(c.InlineValue), c.TotalValueLength, c.OverflowHead)
		fmt.Fprintf(&b, "     preview(hex)=%s preview(ascii)=%q\n",
			hex.EncodeToString(prev), asciiPreview(prev))
	}
	fmt.Fprintf(&b, "=== End Leaf Page Debug ===\n")
	return b.String()
}

// DebugString renders p's routing cells for troubleshooting and test
// assertions.
func (p *InternalPage) DebugString() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "=== Internal Page Debug ===\n")
	fmt.Fprintf(&b, "leftChild=%d rightSibling=%d numCells=%d\n", p.LeftChild, p.RightSibling, len(p.Cells))
	for i, c := range p.Cells {
		fmt.Fprintf(&b, "[%d] key=%d child=%d\n", i, c.Key, c.Child)
	}
	fmt.Fprintf(&b, "=== End Internal Page Debug ===\n")
	return b.String()
}

// DebugString renders m's fixed fields for troubleshooting and test
// assertions.
func (m *Meta) DebugString() string {
	return fmt.Sprintf(
		"=== Meta Page Debug ===\npageSize=%d rootPage=%d treeDepth=%d totalPages=%d keyCount=%d freePageHead=%d\n=== End Meta Page Debug ===\n",
		m.PageSize, m.RootPage, m.TreeDepth, m.TotalPages, m.KeyCount, m.FreePageHead)
}

// DebugString renders one overflow chunk's link and payload preview.
func (p *OverflowPage) DebugString() string {
	prev := previewOf(p.Payload)
	return fmt.Sprintf(
		"=== Overflow Page Debug ===\nnext=%d length=%d preview(hex)=%s preview(ascii)=%q\n=== End Overflow Page Debug ===\n",
		p.Next, p.Length, hex.EncodeToString(prev), asciiPreview(prev))
}
