// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"fmt"
	"runtime"
)

// ClientName builds the client identifier announced in Hello, in the usual
// name/vX.Y.Z/custom/os/go format. The custom part is left out if empty.
func ClientName(name, version, custom string) string {
	var id string
	if len(custom) > 0 {
		id = "/" + custom
	}
	return fmt.Sprintf("%s/v%s%s/%s-%s/%s",
		name,
		version,
		id,
		runtime.GOOS,
		runtime.GOARCH,
		runtime.Version())
}
