package document

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	c := NewChunker(1200, 200)

	chunks, err := c.Chunk("a short document")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "a short document" {
		t.Errorf("Chunk() = %v, want single unchanged chunk", chunks)
	}
}

func TestChunker_EmptyInput(t *testing.T) {
	c := NewChunker(1200, 200)

	for _, input := range []string{"", "   ", "\n\n\t"} {
		chunks, err := c.Chunk(input)
		if err != nil {
			t.Fatalf("Chunk(%q) error: %v", input, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Chunk(%q) = %v, want no chunks", input, chunks)
		}
	}
}

func TestChunker_RejectsBinaryContent(t *testing.T) {
	c := NewChunker(1200, 200)

	_, err := c.Chunk("text\xff\xfebinary")
	if !errors.Is(err, ErrNotText) {
		t.Errorf("Chunk() error = %v, want ErrNotText", err)
	}
}

func TestChunker_LongTextCoversEverything(t *testing.T) {
	c := NewChunker(200, 40)

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is sentence number ")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString(". ")
	}
	text := sb.String()

	chunks, err := c.Chunk(text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if n := utf8.RuneCountInString(chunk); n > c.Size {
			t.Errorf("chunk %d has %d runes, exceeds size %d", i, n, c.Size)
		}
	}

	// The first and last words of the text must survive chunking
	if !strings.Contains(chunks[0], "This is sentence") {
		t.Error("first chunk missing start of text")
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(strings.TrimSpace(text), strings.TrimSpace(last[len(last)-10:])) {
		t.Error("last chunk missing end of text")
	}
}

func TestChunker_OverlapSharesContent(t *testing.T) {
	c := NewChunker(100, 30)

	// Text with no boundaries at all forces fixed-size cuts
	text := strings.Repeat("a", 90) + strings.Repeat("b", 90) + strings.Repeat("c", 90)

	chunks, err := c.Chunk(text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Consecutive chunks overlap: the tail of one appears at the head of the next
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-10:]
		if !strings.Contains(chunks[i], tail[:5]) {
			t.Errorf("chunk %d does not overlap with previous", i)
		}
	}
}

func TestChunker_PrefersParagraphBoundary(t *testing.T) {
	c := NewChunker(100, 10)

	para1 := strings.Repeat("first paragraph text ", 4)
	para2 := strings.Repeat("second paragraph text ", 10)
	text := para1 + "\n\n" + para2

	chunks, err := c.Chunk(text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	// The first chunk should end at the paragraph break, not mid-word
	if strings.Contains(chunks[0], "second") {
		t.Errorf("first chunk crossed paragraph boundary: %q", chunks[0])
	}
}

func TestChunker_MultibyteRuneSafe(t *testing.T) {
	c := NewChunker(100, 20)

	text := strings.Repeat("這是一段中文測試文字。", 60)

	chunks, err := c.Chunk(text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d contains invalid UTF-8", i)
		}
	}
}

func TestNewChunker_Defaults(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		wantSize      bool // true if size should equal input
	}{
		{"valid values kept", 500, 50, true},
		{"zero size defaulted", 0, 50, false},
		{"overlap >= size defaulted", 100, 100, true},
		{"negative overlap defaulted", 100, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunker(tt.size, tt.overlap)
			if c.Size <= 0 {
				t.Errorf("Size = %d, want positive", c.Size)
			}
			if c.Overlap < 0 || c.Overlap >= c.Size {
				t.Errorf("Overlap = %d out of range for size %d", c.Overlap, c.Size)
			}
		})
	}
}

func FuzzChunker_Chunk(f *testing.F) {
	f.Add("hello world")
	f.Add(strings.Repeat("sentence. ", 500))
	f.Add("段落一\n\n段落二\n\n段落三")
	f.Add("")

	c := NewChunker(200, 50)

	f.Fuzz(func(t *testing.T, text string) {
		// Must not panic on any input
		chunks, err := c.Chunk(text)
		if err != nil {
			if !utf8.ValidString(text) {
				return // ErrNotText is expected for invalid UTF-8
			}
			t.Fatalf("Chunk() error on valid UTF-8: %v", err)
		}
		for i, chunk := range chunks {
			if chunk == "" {
				t.Errorf("chunk %d is empty", i)
			}
			if utf8.RuneCountInString(chunk) > c.Size {
				t.Errorf("chunk %d exceeds size limit", i)
			}
		}
	})
}

func BenchmarkChunker_Chunk(b *testing.B) {
	c := NewChunker(1200, 200)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 2000)

	b.ReportAllocs()
	for b.Loop() {
		if _, err := c.Chunk(text); err != nil {
			b.Fatal(err)
		}
	}
}
