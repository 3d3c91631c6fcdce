// Package tghtml builds Telegram HTML-mode message text.
//
// Telegram's HTML parse mode accepts a small tag subset and rejects whole
// messages on malformed markup, so all dynamic text goes through Esc (or the
// tag helpers, which escape internally) and only trusted fragments use Raw.
package tghtml
