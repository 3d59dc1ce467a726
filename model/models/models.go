// Package models registers every model architecture. Importing it for side
// effects makes them available to model.New.
package models

import (
	_ "github.com/sooftware/End-to-end-Speech-Recognition/model/models/speechtransformer"
)
