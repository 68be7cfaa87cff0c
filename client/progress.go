/*
Copyright 2025 The Rollout authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package client

import "io"

// ProgressSink receives byte-level progress during an upload. How the
// numbers are rendered is up to the caller; the client never depends on
// a display mechanism.
type ProgressSink interface {
	Progress(sent, total int64)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(sent, total int64)

// Progress implements ProgressSink.
func (f ProgressFunc) Progress(sent, total int64) { f(sent, total) }

// progressReader reports the running byte count of a read stream to a
// ProgressSink.
type progressReader struct {
	r     io.Reader
	sink  ProgressSink
	sent  int64
	total int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.sink != nil {
			p.sink.Progress(p.sent, p.total)
		}
	}
	return n, err
}
