// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

func init() {
	logger = logrus.New()
}

// SetLogger replaces the package logger, e.g. to share one configured
// instance between driver and frontend.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}
