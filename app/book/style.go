package book

const defaultCSS = `body {
    font-family: Georgia, "Times New Roman", serif;
    font-size: 1em;
    line-height: 1.6;
    margin: 1em;
    color: #333;
}
h1 {
    font-size: 1.4em;
    margin-bottom: 0.5em;
    color: #222;
    line-height: 1.3;
}
.date, .author {
    font-size: 0.85em;
    color: #666;
    margin: 0.2em 0;
}
.content {
    margin-top: 1em;
}
.content p {
    text-indent: 1em;
    margin: 0.5em 0;
}
.content img {
    max-width: 100%;
    height: auto;
    display: block;
    margin: 1em auto;
}
.content figure {
    margin: 1em 0;
    text-align: center;
}
.content figcaption {
    font-size: 0.85em;
    color: #666;
    font-style: italic;
}
.source {
    font-size: 0.8em;
    color: #888;
    margin-top: 2em;
    border-top: 1px solid #ddd;
    padding-top: 0.5em;
}
a {
    color: #0066cc;
    text-decoration: none;
}
blockquote {
    margin: 1em 2em;
    padding-left: 1em;
    border-left: 3px solid #ccc;
    color: #555;
    font-style: italic;
}
nav ol {
    list-style: none;
    padding-left: 0;
}
.cover {
    text-align: center;
    margin: 0;
}
.cover img {
    max-width: 100%;
    max-height: 100%;
}
`
