package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	codeBlockRegex = regexp.MustCompile(`(?s)<pre><code(?: class="language-([a-zA-Z0-9]+)")?>(.*?)</code></pre>`)
	headingRegex   = regexp.MustCompile(`(?s)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	strongRegex    = regexp.MustCompile(`<strong>(.*?)</strong>`)
	emRegex        = regexp.MustCompile(`<em>(.*?)</em>`)
	inlineCodeRe   = regexp.MustCompile(`<code>([^<]+)</code>`)
	listItemRegex  = regexp.MustCompile(`<li>(?s)(.*?)</li>`)
	htmlTagRegex   = regexp.MustCompile(`<[^>]+>`)
	multiNewline   = regexp.MustCompile(`\n{3,}`)
)

// MarkdownRenderer renders markdown prose for the terminal with chroma
// syntax highlighting inside fenced code blocks.
type MarkdownRenderer struct {
	md        goldmark.Markdown
	formatter chroma.Formatter
	style     *chroma.Style
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithRendererOptions(html.WithXHTML()),
			goldmark.WithExtensions(extension.GFM),
		),
		formatter: formatters.Get("terminal256"),
		style:     styles.Get("dracula"),
	}
}

// Render converts markdown to styled terminal text. On conversion failure the
// raw content is returned unchanged.
func (r *MarkdownRenderer) Render(content string, width int) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return r.formatForTerminal(buf.String(), width)
}

func (r *MarkdownRenderer) formatForTerminal(htmlContent string, width int) string {
	result := htmlContent

	var codeBlocks []string
	result = codeBlockRegex.ReplaceAllStringFunc(result, func(m string) string {
		matches := codeBlockRegex.FindStringSubmatch(m)
		code := decodeHTMLEntities(matches[2])
		highlighted := r.highlight(strings.TrimRight(code, "\n"), matches[1])

		styled := lipgloss.NewStyle().
			Background(lipgloss.Color(colorCodeBg)).
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Render(highlighted)

		codeBlocks = append(codeBlocks, styled)
		return fmt.Sprintf("\n{{CODE_BLOCK_%d}}\n", len(codeBlocks)-1)
	})

	result = inlineCodeRe.ReplaceAllStringFunc(result, func(m string) string {
		matches := inlineCodeRe.FindStringSubmatch(m)
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFg)).
			Background(lipgloss.Color(colorCodeBg)).
			Render(decodeHTMLEntities(matches[1]))
	})

	result = headingRegex.ReplaceAllStringFunc(result, func(m string) string {
		matches := headingRegex.FindStringSubmatch(m)
		text := htmlTagRegex.ReplaceAllString(matches[2], "")
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorAccent)).
			Render(text) + "\n"
	})

	result = strongRegex.ReplaceAllString(result, lipgloss.NewStyle().Bold(true).Render("$1"))
	result = emRegex.ReplaceAllString(result, lipgloss.NewStyle().Italic(true).Render("$1"))

	result = listItemRegex.ReplaceAllStringFunc(result, func(m string) string {
		matches := listItemRegex.FindStringSubmatch(m)
		item := strings.TrimSpace(htmlTagRegex.ReplaceAllString(matches[1], ""))
		bullet := lipgloss.NewStyle().Foreground(lipgloss.Color(colorSuccess)).Render("  • ")
		return bullet + item + "\n"
	})

	result = strings.ReplaceAll(result, "</p>", "\n")
	result = htmlTagRegex.ReplaceAllString(result, "")
	result = decodeHTMLEntities(result)

	for i, block := range codeBlocks {
		result = strings.ReplaceAll(result, fmt.Sprintf("{{CODE_BLOCK_%d}}", i), block)
	}

	result = multiNewline.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

func (r *MarkdownRenderer) highlight(code, lang string) string {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

func decodeHTMLEntities(s string) string {
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&#x27;", "'",
		"&#x60;", "`",
		"&nbsp;", " ",
	)
	return replacer.Replace(s)
}
