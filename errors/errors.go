// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

// Package errors contains the tagged error-kind domain used throughout
// diskimg: a constructor/predicate pair per kind
// named in the wrapper/diskimg/diskfs error contract, plus a plain
// passthrough of the standard library's errors.New so callers never need
// to import both packages.
package errors

import (
	"errors"
	"fmt"
)

// New is errors.New, re-exported so callers only need this package.
func New(text string) error {
	return errors.New(text)
}

// Is is errors.Is, re-exported for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As, re-exported for convenience.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// taggedKind declares one error kind: the constructor and predicate below
// share a pointer identity so IsFoo can tell kinds apart without
// declaring a distinct Go type per kind.
type taggedKind struct {
	name string
}

// kindError is the concrete error value for a given kind.
type kindError struct {
	kind *taggedKind
	msg  string
}

func (e kindError) Error() string { return e.msg }

func newKind(name string) *taggedKind {
	return &taggedKind{name: name}
}

func (k *taggedKind) errorf(format string, a ...interface{}) error {
	return kindError{kind: k, msg: fmt.Sprintf(format, a...)}
}

func (k *taggedKind) is(err error) bool {
	var ke kindError
	if errors.As(err, &ke) {
		return ke.kind == k
	}
	return false
}

// The error-kind domain from the diskimg wrapper/probe/filesystem
// contract. Each kind gets a Foof constructor and an IsFoo predicate.
var (
	kindFilesystemNotFound = newKind("FilesystemNotFound")
	kindBadDiskImage       = newKind("BadDiskImage")
	kindDirectoryLoop      = newKind("DirectoryLoop")
	kindFileOpen           = newKind("FileOpen")
	kindAlreadyOpen        = newKind("AlreadyOpen")
	kindForkNotFound       = newKind("ForkNotFound")
	kindAccessDenied       = newKind("AccessDenied")
	kindReadOnly           = newKind("ReadOnly")
	kindDiskFull           = newKind("DiskFull")
	kindVolumeDirFull      = newKind("VolumeDirFull")
	kindFileExists         = newKind("FileExists")
	kindInvalidArg         = newKind("InvalidArg")
	kindInvalidIndex       = newKind("InvalidIndex")
	kindInvalidSector      = newKind("InvalidSector")
	kindInvalidDiskByte    = newKind("InvalidDiskByte")
	kindBadChecksum        = newKind("BadChecksum")
	kindBadCompressedData  = newKind("BadCompressedData")
	kindWrapperDamaged     = newKind("WrapperDamaged")
	kindDataUnderrun       = newKind("DataUnderrun")
	kindCancelled          = newKind("Cancelled")
	kindMalloc             = newKind("Malloc")
	kindInternal           = newKind("Internal")
	kindEOF                = newKind("EOF")
	kindIO                 = newKind("IO")
)

func FilesystemNotFoundf(format string, a ...interface{}) error { return kindFilesystemNotFound.errorf(format, a...) }
func IsFilesystemNotFound(err error) bool                       { return kindFilesystemNotFound.is(err) }

func BadDiskImagef(format string, a ...interface{}) error { return kindBadDiskImage.errorf(format, a...) }
func IsBadDiskImage(err error) bool                       { return kindBadDiskImage.is(err) }

func DirectoryLoopf(format string, a ...interface{}) error { return kindDirectoryLoop.errorf(format, a...) }
func IsDirectoryLoop(err error) bool                       { return kindDirectoryLoop.is(err) }

func FileOpenf(format string, a ...interface{}) error { return kindFileOpen.errorf(format, a...) }
func IsFileOpen(err error) bool                       { return kindFileOpen.is(err) }

func AlreadyOpenf(format string, a ...interface{}) error { return kindAlreadyOpen.errorf(format, a...) }
func IsAlreadyOpen(err error) bool                       { return kindAlreadyOpen.is(err) }

func ForkNotFoundf(format string, a ...interface{}) error { return kindForkNotFound.errorf(format, a...) }
func IsForkNotFound(err error) bool                       { return kindForkNotFound.is(err) }

func AccessDeniedf(format string, a ...interface{}) error { return kindAccessDenied.errorf(format, a...) }
func IsAccessDenied(err error) bool                       { return kindAccessDenied.is(err) }

func ReadOnlyf(format string, a ...interface{}) error { return kindReadOnly.errorf(format, a...) }
func IsReadOnly(err error) bool                       { return kindReadOnly.is(err) }

func DiskFullf(format string, a ...interface{}) error { return kindDiskFull.errorf(format, a...) }
func IsDiskFull(err error) bool                       { return kindDiskFull.is(err) }

func VolumeDirFullf(format string, a ...interface{}) error { return kindVolumeDirFull.errorf(format, a...) }
func IsVolumeDirFull(err error) bool                       { return kindVolumeDirFull.is(err) }

func FileExistsf(format string, a ...interface{}) error { return kindFileExists.errorf(format, a...) }
func IsFileExists(err error) bool                       { return kindFileExists.is(err) }

func InvalidArgf(format string, a ...interface{}) error { return kindInvalidArg.errorf(format, a...) }
func IsInvalidArg(err error) bool                       { return kindInvalidArg.is(err) }

func InvalidIndexf(format string, a ...interface{}) error { return kindInvalidIndex.errorf(format, a...) }
func IsInvalidIndex(err error) bool                       { return kindInvalidIndex.is(err) }

func InvalidSectorf(format string, a ...interface{}) error { return kindInvalidSector.errorf(format, a...) }
func IsInvalidSector(err error) bool                       { return kindInvalidSector.is(err) }

func InvalidDiskBytef(format string, a ...interface{}) error { return kindInvalidDiskByte.errorf(format, a...) }
func IsInvalidDiskByte(err error) bool                        { return kindInvalidDiskByte.is(err) }

func BadChecksumf(format string, a ...interface{}) error { return kindBadChecksum.errorf(format, a...) }
func IsBadChecksum(err error) bool                       { return kindBadChecksum.is(err) }

func BadCompressedDataf(format string, a ...interface{}) error { return kindBadCompressedData.errorf(format, a...) }
func IsBadCompressedData(err error) bool                        { return kindBadCompressedData.is(err) }

func WrapperDamagedf(format string, a ...interface{}) error { return kindWrapperDamaged.errorf(format, a...) }
func IsWrapperDamaged(err error) bool                       { return kindWrapperDamaged.is(err) }

func DataUnderrunf(format string, a ...interface{}) error { return kindDataUnderrun.errorf(format, a...) }
func IsDataUnderrun(err error) bool                       { return kindDataUnderrun.is(err) }

func Cancelledf(format string, a ...interface{}) error { return kindCancelled.errorf(format, a...) }
func IsCancelled(err error) bool                       { return kindCancelled.is(err) }

func Mallocf(format string, a ...interface{}) error { return kindMalloc.errorf(format, a...) }
func IsMalloc(err error) bool                       { return kindMalloc.is(err) }

func Internalf(format string, a ...interface{}) error { return kindInternal.errorf(format, a...) }
func IsInternal(err error) bool                       { return kindInternal.is(err) }

func EOFf(format string, a ...interface{}) error { return kindEOF.errorf(format, a...) }
func IsEOF(err error) bool                       { return kindEOF.is(err) }

func IOf(format string, a ...interface{}) error { return kindIO.errorf(format, a...) }
func IsIO(err error) bool                       { return kindIO.is(err) }
