// Copyright 2015 Google Inc. All rights reserved.
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

package fastzip

import "github.com/fastzip/fastzip/internal/zerr"

// Error kinds, matching the taxonomy every internal package wraps its
// errors against. Use errors.Is(err, fastzip.ErrBadName) etc. to
// discriminate.
var (
	ErrBadName         = zerr.ErrBadName
	ErrDuplicateName   = zerr.ErrDuplicateName
	ErrSourceIO        = zerr.ErrSourceIO
	ErrCompressorError = zerr.ErrCompressorError
	ErrOutputIO        = zerr.ErrOutputIO
	ErrInconsistent    = zerr.ErrInconsistent
)
