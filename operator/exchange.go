// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package operator

import (
	"github.com/sneller-query/qcore/memctl"
	"github.com/sneller-query/qcore/page"
)

// LocalExchangeSink is one writer's view of a Local Exchange: AddPage hands the page to the exchange, which applies its
// partitioning policy internally.
type LocalExchangeSink interface {
	AddPage(p *page.Page) error
	Finish()
	IsBlocked() *memctl.Future
}

// ExchangeSinkOperator forwards pipeline output into a Local Exchange
// writer buffer. Like Output, it is a pure sink.
type ExchangeSinkOperator struct {
	Base
	sink LocalExchangeSink
}

func NewExchangeSinkOperator(sink LocalExchangeSink) *ExchangeSinkOperator {
	return &ExchangeSinkOperator{sink: sink}
}

func (e *ExchangeSinkOperator) NeedsInput() bool { return !e.finished }

func (e *ExchangeSinkOperator) AddInput(p *page.Page) error { return e.sink.AddPage(p) }

func (e *ExchangeSinkOperator) GetOutput() (*page.Page, error) { return nil, nil }

func (e *ExchangeSinkOperator) IsBlocked() *memctl.Future { return e.sink.IsBlocked() }

func (e *ExchangeSinkOperator) Finish() error {
	e.sink.Finish()
	e.finished = true
	return nil
}

// ExchangeSourceOperator pulls Pages out of one Local Exchange reader
// buffer. It shares the connector source's source shape exactly, so
// it reuses ConnectorPageSource as the reader contract.
type ExchangeSourceOperator struct {
	Base
	src ConnectorPageSource
}

func NewExchangeSourceOperator(src ConnectorPageSource) *ExchangeSourceOperator {
	return &ExchangeSourceOperator{src: src}
}

func (e *ExchangeSourceOperator) NeedsInput() bool          { return false }
func (e *ExchangeSourceOperator) AddInput(*page.Page) error { return errNoInput("ExchangeSourceOperator") }

func (e *ExchangeSourceOperator) GetOutput() (*page.Page, error) {
	if e.src.IsFinished() {
		e.finished = true
		return nil, nil
	}
	return e.src.GetNextPage()
}

func (e *ExchangeSourceOperator) IsFinished() bool      { return e.finished || e.src.IsFinished() }
func (e *ExchangeSourceOperator) IsBlocked() *memctl.Future { return e.src.IsBlocked() }
