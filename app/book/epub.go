package book

import (
	"archive/zip"
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"

	"github.com/lysyi3m/rss-bindery/app/feed"
)

const (
	epubMimetype = "application/epub+zip"
	xhtmlType    = "application/xhtml+xml"
	contentDir   = "OEBPS/"
	stylesheet   = "style/nav.css"
	dateLayout   = "02/01/2006 15:04"
	untitled     = "Untitled"
)

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

// Elements that have no place in a reading system or cannot be serialized as XHTML.
const strippedElements = "script, style, noscript, iframe, object, embed, form, input, button, link, meta, base"

type labels struct {
	author   string
	source   string
	contents string
}

func labelsFor(language string) labels {
	if strings.HasPrefix(strings.ToLower(language), "vi") {
		return labels{author: "Tác giả", source: "Nguồn gốc", contents: "Mục lục"}
	}
	return labels{author: "Author", source: "Source", contents: "Contents"}
}

type resource struct {
	id        string
	href      string
	mediaType string
	data      []byte
}

func newResource(id, href string, data []byte) *resource {
	detected := mimetype.Detect(data)

	mediaType := detected.String()
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = mediaTypeByExtension(href)
	}

	if path.Ext(href) == "" {
		ext := detected.Extension()
		if !strings.HasPrefix(mediaType, "image/") || ext == "" {
			ext = ".jpg"
		}
		href += ext
	}

	return &resource{id: id, href: href, mediaType: mediaType, data: data}
}

func mediaTypeByExtension(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "image/jpeg"
	}
}

type chapter struct {
	id        string
	href      string
	title     string
	url       string
	author    string
	published *time.Time
	body      string
}

func newChapter(index int, article feed.Article) chapter {
	id := fmt.Sprintf("chapter_%03d", index)
	return chapter{
		id:        id,
		href:      id + ".xhtml",
		title:     cmp.Or(strings.TrimSpace(article.Title), untitled),
		url:       article.URL,
		author:    article.Author,
		published: article.Published,
		body:      toXHTML(article.Content),
	}
}

// toXHTML parses HTML content and serializes the body back out as well-formed
// markup. Document wrappers are dropped.
func toXHTML(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "<p>" + escape(content) + "</p>"
	}

	doc.Find(strippedElements).Remove()
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		kept := n.Attr[:0]
		for _, attr := range n.Attr {
			if attr.Namespace != "" || attr.Key == "xmlns" || !isXMLName(attr.Key) || strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				continue
			}
			kept = append(kept, attr)
		}
		n.Attr = kept
	})

	body, err := doc.Find("body").Html()
	if err != nil {
		return "<p>" + escape(doc.Text()) + "</p>"
	}
	return body
}

func isXMLName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

type entry struct {
	name string
	data []byte
}

type epub struct {
	identifier string
	title      string
	author     string
	language   string
	date       string
	modified   string
	labels     labels

	cover    *resource
	images   []*resource
	chapters []chapter
}

func (b *epub) write(zw *zip.Writer) error {
	// The mimetype entry must come first and be stored uncompressed.
	if err := addFile(zw, "mimetype", []byte(epubMimetype), zip.Store); err != nil {
		return err
	}

	files := []entry{
		{"META-INF/container.xml", []byte(containerXML)},
		{contentDir + "content.opf", b.packageDocument()},
		{contentDir + "toc.ncx", b.ncx()},
		{contentDir + "nav.xhtml", b.nav()},
		{contentDir + stylesheet, []byte(defaultCSS)},
	}

	if b.cover != nil {
		files = append(files,
			entry{contentDir + "cover.xhtml", b.coverPage()},
			entry{contentDir + b.cover.href, b.cover.data},
		)
	}

	for _, img := range b.images {
		files = append(files, entry{contentDir + img.href, img.data})
	}

	for _, c := range b.chapters {
		files = append(files, entry{contentDir + c.href, b.chapterDocument(c)})
	}

	for _, f := range files {
		if err := addFile(zw, f.name, f.data, zip.Deflate); err != nil {
			return err
		}
	}

	return nil
}

func addFile(zw *zip.Writer, name string, data []byte, method uint16) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (b *epub) packageDocument() []byte {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, "<package xmlns=\"http://www.idpf.org/2007/opf\" version=\"3.0\" unique-identifier=\"book-id\" xml:lang=\"%s\">\n", escape(b.language))

	buf.WriteString("  <metadata xmlns:dc=\"http://purl.org/dc/elements/1.1/\">\n")
	fmt.Fprintf(&buf, "    <dc:identifier id=\"book-id\">%s</dc:identifier>\n", escape(b.identifier))
	writeElement(&buf, "dc:title", b.title, 4)
	writeElement(&buf, "dc:language", b.language, 4)
	writeElement(&buf, "dc:creator", b.author, 4)
	writeElement(&buf, "dc:date", b.date, 4)
	fmt.Fprintf(&buf, "    <meta property=\"dcterms:modified\">%s</meta>\n", escape(b.modified))
	if b.cover != nil {
		fmt.Fprintf(&buf, "    <meta name=\"cover\" content=\"%s\"/>\n", b.cover.id)
	}
	buf.WriteString("  </metadata>\n")

	buf.WriteString("  <manifest>\n")
	writeItem(&buf, "ncx", "toc.ncx", "application/x-dtbncx+xml", "")
	writeItem(&buf, "nav", "nav.xhtml", xhtmlType, "nav")
	writeItem(&buf, "style_nav", stylesheet, "text/css", "")
	if b.cover != nil {
		writeItem(&buf, b.cover.id, b.cover.href, b.cover.mediaType, "cover-image")
		writeItem(&buf, "cover", "cover.xhtml", xhtmlType, "")
	}
	for _, img := range b.images {
		writeItem(&buf, img.id, img.href, img.mediaType, "")
	}
	for _, c := range b.chapters {
		writeItem(&buf, c.id, c.href, xhtmlType, "")
	}
	buf.WriteString("  </manifest>\n")

	buf.WriteString("  <spine toc=\"ncx\">\n")
	if b.cover != nil {
		buf.WriteString("    <itemref idref=\"cover\" linear=\"no\"/>\n")
	}
	buf.WriteString("    <itemref idref=\"nav\"/>\n")
	for _, c := range b.chapters {
		fmt.Fprintf(&buf, "    <itemref idref=\"%s\"/>\n", c.id)
	}
	buf.WriteString("  </spine>\n")

	buf.WriteString("</package>\n")
	return buf.Bytes()
}

func (b *epub) ncx() []byte {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)
	buf.WriteString("<ncx xmlns=\"http://www.daisy.org/z3986/2005/ncx/\" version=\"2005-1\">\n")
	buf.WriteString("  <head>\n")
	fmt.Fprintf(&buf, "    <meta name=\"dtb:uid\" content=\"%s\"/>\n", escape(b.identifier))
	buf.WriteString("    <meta name=\"dtb:depth\" content=\"1\"/>\n")
	buf.WriteString("    <meta name=\"dtb:totalPageCount\" content=\"0\"/>\n")
	buf.WriteString("    <meta name=\"dtb:maxPageNumber\" content=\"0\"/>\n")
	buf.WriteString("  </head>\n")
	fmt.Fprintf(&buf, "  <docTitle><text>%s</text></docTitle>\n", escape(b.title))

	buf.WriteString("  <navMap>\n")
	for i, c := range b.chapters {
		fmt.Fprintf(&buf, "    <navPoint id=\"nav_%s\" playOrder=\"%d\">\n", c.id, i+1)
		fmt.Fprintf(&buf, "      <navLabel><text>%s</text></navLabel>\n", escape(c.title))
		fmt.Fprintf(&buf, "      <content src=\"%s\"/>\n", c.href)
		buf.WriteString("    </navPoint>\n")
	}
	buf.WriteString("  </navMap>\n")

	buf.WriteString("</ncx>\n")
	return buf.Bytes()
}

func (b *epub) nav() []byte {
	var buf bytes.Buffer

	b.writeHead(&buf, b.title)
	buf.WriteString("<body>\n")
	buf.WriteString("  <nav epub:type=\"toc\" id=\"toc\">\n")
	writeElement(&buf, "h1", b.labels.contents, 4)
	buf.WriteString("    <ol>\n")
	for _, c := range b.chapters {
		fmt.Fprintf(&buf, "      <li><a href=\"%s\">%s</a></li>\n", c.href, escape(c.title))
	}
	buf.WriteString("    </ol>\n")
	buf.WriteString("  </nav>\n")
	buf.WriteString("</body>\n</html>\n")

	return buf.Bytes()
}

func (b *epub) coverPage() []byte {
	var buf bytes.Buffer

	b.writeHead(&buf, b.title)
	buf.WriteString("<body>\n")
	fmt.Fprintf(&buf, "  <div class=\"cover\"><img src=\"%s\" alt=\"%s\"/></div>\n", b.cover.href, escape(b.title))
	buf.WriteString("</body>\n</html>\n")

	return buf.Bytes()
}

func (b *epub) chapterDocument(c chapter) []byte {
	var buf bytes.Buffer

	b.writeHead(&buf, c.title)
	buf.WriteString("<body>\n")
	writeElement(&buf, "h1", c.title, 2)
	if c.published != nil {
		fmt.Fprintf(&buf, "  <p class=\"date\">%s</p>\n", c.published.Local().Format(dateLayout))
	}
	if c.author != "" {
		fmt.Fprintf(&buf, "  <p class=\"author\">%s: %s</p>\n", escape(b.labels.author), escape(c.author))
	}
	buf.WriteString("  <div class=\"content\">\n")
	buf.WriteString(c.body)
	buf.WriteString("\n  </div>\n")
	if c.url != "" {
		fmt.Fprintf(&buf, "  <p class=\"source\"><a href=\"%s\">%s</a></p>\n", escape(c.url), escape(b.labels.source))
	}
	buf.WriteString("</body>\n</html>\n")

	return buf.Bytes()
}

func (b *epub) writeHead(buf *bytes.Buffer, title string) {
	buf.WriteString(xml.Header)
	buf.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(buf, "<html xmlns=\"http://www.w3.org/1999/xhtml\" xmlns:epub=\"http://www.idpf.org/2007/ops\" lang=\"%s\" xml:lang=\"%s\">\n",
		escape(b.language), escape(b.language))
	buf.WriteString("<head>\n")
	writeElement(buf, "title", title, 2)
	fmt.Fprintf(buf, "  <link rel=\"stylesheet\" type=\"text/css\" href=\"%s\"/>\n", stylesheet)
	buf.WriteString("</head>\n")
}

func writeItem(buf *bytes.Buffer, id, href, mediaType, properties string) {
	fmt.Fprintf(buf, "    <item id=\"%s\" href=\"%s\" media-type=\"%s\"", escape(id), escape(href), escape(mediaType))
	if properties != "" {
		fmt.Fprintf(buf, " properties=\"%s\"", properties)
	}
	buf.WriteString("/>\n")
}

func writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
