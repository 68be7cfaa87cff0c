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

package cmd

import (
	"fmt"
	"io"

	"github.com/docker/go-units"

	"github.com/rollout-sh/rollout/client"
)

// newProgressPrinter returns a sink that rewrites a single upload status
// line as bytes go out.
func newProgressPrinter(w io.Writer, total int64) client.ProgressSink {
	return client.ProgressFunc(func(sent, _ int64) {
		pct := int64(100)
		if total > 0 {
			pct = sent * 100 / total
		}
		fmt.Fprintf(w, "\rUploading... %3d%% (%s / %s)", pct,
			units.HumanSize(float64(sent)), units.HumanSize(float64(total)))
		if sent >= total {
			fmt.Fprintln(w)
		}
	})
}
