// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"sync"

	"golang.org/x/term"
)

const outputLimit = 1024
const flushChr = 0x0a // \n

// TermWriter buffers log output and flushes it to a terminal one line at a
// time, colored after the originating world.
type TermWriter struct {
	sync.Mutex

	// Term is the output terminal
	Term *term.Terminal
	// Secure selects Secure World (green) or Normal World (red) coloring
	Secure bool

	buf bytes.Buffer
}

func (w *TermWriter) flush() {
	color := w.Term.Escape.Red

	if w.Secure {
		color = w.Term.Escape.Green
	}

	w.Term.Write(color)
	w.Term.Write(w.buf.Bytes())
	w.Term.Write(w.Term.Escape.Reset)

	w.buf.Reset()
}

// Write implements io.Writer.
func (w *TermWriter) Write(p []byte) (int, error) {
	w.Lock()
	defer w.Unlock()

	for _, c := range p {
		w.buf.WriteByte(c)

		if c == flushChr || w.buf.Len() > outputLimit {
			w.flush()
		}
	}

	return len(p), nil
}
