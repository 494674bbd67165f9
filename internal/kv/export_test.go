package kv

var EscapeGlob = escapeGlob
