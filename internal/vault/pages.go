// ABOUTME: Folder-per-page markdown storage inside a vault
// ABOUTME: Each page is a directory holding page.md; content is treated as opaque text

package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// pageFile is the markdown file inside each page directory.
const pageFile = "page.md"

// ErrPageNotFound is returned when a page doesn't exist.
var ErrPageNotFound = errors.New("page not found")

// ListPages returns the relative paths of all pages in the vault, sorted
// by the walk order (lexicographic).
func (m *Manager) ListPages(vaultPath string) ([]string, error) {
	root := filepath.Join(vaultPath, "pages")

	var pages []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != pageFile {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		pages = append(pages, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("walking pages: %w", err)
	}
	return pages, nil
}

// ReadPage returns a page's markdown content.
func (m *Manager) ReadPage(vaultPath, page string) ([]byte, error) {
	dir, err := pageDir(vaultPath, page)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, pageFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrPageNotFound
		}
		return nil, fmt.Errorf("reading page: %w", err)
	}
	return data, nil
}

// WritePage creates or replaces a page's content.
func (m *Manager) WritePage(vaultPath, page string, content []byte) error {
	dir, err := pageDir(vaultPath, page)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating page directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, pageFile), content, 0644); err != nil {
		return fmt.Errorf("writing page: %w", err)
	}
	return nil
}

// DeletePage removes a page directory and everything under it.
func (m *Manager) DeletePage(vaultPath, page string) error {
	dir, err := pageDir(vaultPath, page)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, pageFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrPageNotFound
		}
		return fmt.Errorf("checking page: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting page: %w", err)
	}
	return nil
}

// pageDir resolves a page path inside the vault and rejects anything that
// would escape the pages directory.
func pageDir(vaultPath, page string) (string, error) {
	page = strings.Trim(page, "/")
	if page == "" {
		return "", fmt.Errorf("page path is required")
	}

	root := filepath.Join(vaultPath, "pages")
	dir := filepath.Join(root, filepath.FromSlash(page))

	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid page path %q", page)
	}
	return dir, nil
}
