// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fspath

import (
	"strings"

	"vfscore.dev/vfscore/pkg/errors/linuxerr"
)

// Canonicalize converts pathname into an absolute path with no "." or ".."
// components, no repeated separators and no trailing separator (except for
// "/" itself). A relative pathname is interpreted relative to wd, which must
// already be canonical. ".." at the root stays at the root.
//
// If maxLen is positive, results longer than maxLen fail with ENAMETOOLONG.
func Canonicalize(wd, pathname string, maxLen int) (string, error) {
	if maxLen > 0 && len(pathname) >= maxLen {
		return "", linuxerr.ENAMETOOLONG
	}
	p, err := Parse(pathname)
	if err != nil {
		return "", err
	}
	var stack []string
	if !p.Absolute {
		wp, err := Parse(wd)
		if err != nil {
			return "", err
		}
		for it := wp.Begin; it.Ok(); it = it.Next() {
			stack = append(stack, it.String())
		}
	}
	for it := p.Begin; it.Ok(); it = it.Next() {
		switch pc := it.String(); pc {
		case ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, pc)
		}
	}
	if len(stack) == 0 {
		return "/", nil
	}
	var b Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.PrependComponent(stack[i])
	}
	b.PrependByte(pathSep)
	if maxLen > 0 && b.Len() >= maxLen {
		return "", linuxerr.ENAMETOOLONG
	}
	return b.String(), nil
}

// Split splits a canonical path into its parent directory and final
// component. Split("/") returns ("/", "").
func Split(path string) (dir, name string) {
	i := strings.LastIndexByte(path, pathSep)
	if i < 0 {
		return ".", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// Join appends name to the canonical directory path dir.
func Join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// HasPrefix returns true if the canonical path p is prefix or lies beneath
// it, matching only on component boundaries: "/foo" is a prefix of
// "/foo/bar" but not of "/foobar".
func HasPrefix(p, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(p, "/")
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == pathSep
}

// IsDescendant returns true if the canonical path child lies strictly
// beneath parent.
func IsDescendant(parent, child string) bool {
	return child != parent && HasPrefix(child, parent)
}

// TrimTrailingSlashes removes trailing separators from pathname (but never
// reduces it to an empty string) and reports whether any were removed.
func TrimTrailingSlashes(pathname string) (string, bool) {
	trimmed := strings.TrimRight(pathname, "/")
	if trimmed == "" {
		// "/" or "////".
		return pathname[:min(len(pathname), 1)], false
	}
	return trimmed, len(trimmed) != len(pathname)
}
