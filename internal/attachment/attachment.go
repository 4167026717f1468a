// Package attachment validates the files a user selects for one message.
package attachment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// MaxPerItem is the number of attachments one message may carry.
const MaxPerItem = 3

// executableTypes are declared MIME types of Windows executables.
var executableTypes = []string{
	"application/x-msdownload",
	"application/x-msdos-program",
	"application/vnd.microsoft.portable-executable",
	"application/x-dosexec",
	"application/exe",
	"application/x-exe",
}

// File is a selected file awaiting upload.
type File struct {
	Path        string
	Name        string `validate:"required,notexe"`
	ContentType string `validate:"omitempty,notexemime"`
	Size        int64  `validate:"gte=0"`
}

// FromPath describes the file at path, sniffing its content type.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	f := File{Path: path, Name: filepath.Base(path), Size: info.Size()}
	if mt, err := mimetype.DetectFile(path); err == nil {
		f.ContentType = mt.String()
	}
	return f, nil
}

// ValidationError is a user-facing rejection of a selection.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.File == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

type selection struct {
	Files []File `validate:"max=3,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notexe", func(fl validator.FieldLevel) bool {
		return !hasExeName(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("notexemime", func(fl validator.FieldLevel) bool {
		return !IsExecutableType(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

func hasExeName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".exe")
}

// IsExecutableType reports whether contentType declares a Windows executable.
// Parameters such as "; charset=binary" are ignored.
func IsExecutableType(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	return slices.Contains(executableTypes, strings.ToLower(strings.TrimSpace(base)))
}

// Validate checks that files may travel together on one message.
func Validate(files []File) error {
	err := validate.Struct(selection{Files: files})
	if err == nil {
		return sniff(files)
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "max":
		return &ValidationError{Reason: fmt.Sprintf("at most %d attachments per message", MaxPerItem)}
	case "notexe", "notexemime":
		return &ValidationError{File: nameAt(files, fe), Reason: "executable files are not allowed"}
	case "required":
		return &ValidationError{Reason: "attachment has no file name"}
	default:
		return &ValidationError{File: nameAt(files, fe), Reason: fmt.Sprintf("invalid %s", strings.ToLower(fe.Field()))}
	}
}

// nameAt recovers the file name for an error on Files[i].Field.
func nameAt(files []File, fe validator.FieldError) string {
	ns := fe.StructNamespace()
	open := strings.IndexByte(ns, '[')
	closing := strings.IndexByte(ns, ']')
	if open < 0 || closing < open {
		return ""
	}
	var i int
	if _, err := fmt.Sscanf(ns[open+1:closing], "%d", &i); err != nil || i < 0 || i >= len(files) {
		return ""
	}
	return files[i].Name
}

// sniff rejects readable files whose content is a PE executable regardless
// of their declared name and type.
func sniff(files []File) error {
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		mt, err := mimetype.DetectFile(f.Path)
		if err != nil {
			continue
		}
		if mt.Is("application/vnd.microsoft.portable-executable") || mt.Extension() == ".exe" {
			return &ValidationError{File: f.Name, Reason: "executable files are not allowed"}
		}
	}
	return nil
}

// Pending is the attachment list of the message being composed.
// A rejected Add leaves it unchanged.
type Pending struct {
	mu    sync.Mutex
	files []File
}

// Add validates the existing files plus files as one selection and appends
// them only if the whole selection passes.
func (p *Pending) Add(files ...File) error {
	if len(files) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	candidate := append(slices.Clone(p.files), files...)
	if err := Validate(candidate); err != nil {
		return err
	}
	p.files = candidate
	return nil
}

// Files returns a copy of the pending files.
func (p *Pending) Files() []File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.files)
}

// Len returns the number of pending files.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// Clear empties the list and returns what it held.
func (p *Pending) Clear() []File {
	p.mu.Lock()
	defer p.mu.Unlock()
	files := p.files
	p.files = nil
	return files
}
