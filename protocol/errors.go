/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package protocol

import "errors"

// Error kinds of the wire layer. Callers match with errors.Is.
var (
	// ErrFieldOverflow means a header field was assigned a value outside
	// its bit width
	ErrFieldOverflow = errors.New("header field overflow")
	// ErrBadField means a decoded header field holds a value outside its
	// enum range
	ErrBadField = errors.New("bad header field")
	// ErrMsgOversize means an encoded body would exceed MsgMaxLen
	ErrMsgOversize = errors.New("message exceeds max length")
	// ErrBadFrame means a frame could not be decoded
	ErrBadFrame = errors.New("bad frame")
)
