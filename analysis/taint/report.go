// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taint

import (
	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/internal/formatutil"
)

// ReportFlow logs a vulnerable row; the hops of the path are logged at debug level
func ReportFlow(logger *config.LogGroup, row dataflow.Row) {
	confirmed := ""
	if row.Confirmed {
		confirmed = " (confirmed)"
	}
	logger.Infof(" 💀 %s reached at %s%s", formatutil.Red(row.VulnerabilityType), formatutil.Red(row.Sink.Loc()),
		confirmed)
	logger.Infof(" Add new path from %s to %s <== ",
		formatutil.Green(formatutil.Sanitize(row.Source.String())), formatutil.Red(formatutil.Sanitize(row.Sink.String())))
	if !logger.LogsDebug() {
		return
	}
	for _, h := range row.Hops {
		logger.Debugf("TRACE: [%s] %s", h.Function, formatutil.Sanitize(h.String()))
	}
	logger.Debugf("SINK: %s", row.Sink.Loc())
}
