// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import "context"

// TransportEvents are the notifications a Transporter raises after Connect.
// They are invoked from a single goroutine, in arrival order.
type TransportEvents struct {
	OnData  func(delivery []byte)
	OnClose func()
	OnError func(err error)
}

// Transporter is the byte-stream collaborator under a Port. Each OnData
// delivery carries exactly one envelope header followed by its payload.
type Transporter interface {
	Connect(ctx context.Context, events TransportEvents) error
	Send(data []byte) error
	Destroy() error
	RemoteAddr() string
}
