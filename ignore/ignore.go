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

// Package ignore decides which files of a project directory are excluded
// from a deployment artifact. It combines a fixed built-in deny list with
// user-supplied glob patterns read from a project-local ignore file.
package ignore

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFile is the name of the project-local file holding user-supplied
// ignore patterns, one glob pattern per line.
const IgnoreFile = ".rolloutignore"

const commentPrefix = "#"

// BuiltinPatterns returns the patterns that are always excluded from an
// artifact: version control metadata, OS metadata, dependency directories,
// and the ignore file itself. They cannot be overridden by project rules.
func BuiltinPatterns(domain []string) []gitignore.Pattern {
	ps := []gitignore.Pattern{}
	for _, p := range []string{
		// Version control metadata.
		".git/", ".gitignore", ".gitmodules", ".gitattributes",
		".svn/", ".hg/", ".hgignore",
		// OS metadata.
		".DS_Store", "Thumbs.db", "desktop.ini",
		// Dependency directories.
		"node_modules/",
		// The rule file itself.
		IgnoreFile,
	} {
		ps = append(ps, gitignore.ParsePattern(p, domain))
	}
	return ps
}

// NewMatcher returns a gitignore.Matcher for the given patterns.
// Patterns are matched in order, project patterns taking effect after the
// built-in ones they are appended to.
func NewMatcher(ps []gitignore.Pattern) gitignore.Matcher {
	return gitignore.NewMatcher(ps)
}

// NewDefaultMatcher returns a gitignore.Matcher with the given patterns
// appended to BuiltinPatterns.
func NewDefaultMatcher(ps []gitignore.Pattern, domain []string) gitignore.Matcher {
	all := BuiltinPatterns(domain)
	all = append(all, ps...)
	return gitignore.NewMatcher(all)
}

// ReadPatterns collects ignore patterns from the given reader, ignoring
// blank lines and lines starting with "#".
func ReadPatterns(reader io.Reader, domain []string) []gitignore.Pattern {
	var ps []gitignore.Pattern
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		s := strings.TrimSpace(scanner.Text())
		if s == "" || strings.HasPrefix(s, commentPrefix) {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(s, domain))
	}
	return ps
}

// LoadPatterns returns the patterns from the IgnoreFile in dir, if present.
// A missing or unreadable ignore file means no extra rules and is never an
// error.
func LoadPatterns(dir string, domain []string) []gitignore.Pattern {
	f, err := os.Open(filepath.Join(dir, IgnoreFile))
	if err != nil {
		return nil
	}
	defer f.Close()
	return ReadPatterns(f, domain)
}
