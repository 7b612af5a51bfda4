// ABOUTME: DAQ recording file format: text header plus fixed-width value records
// ABOUTME: Records are "%7.5f, " with a line break every ColumnBreak values
package daqlog

import (
	"fmt"
	"strconv"
)

const (
	// DefaultProduct names the instrument in the header's first line.
	DefaultProduct = "EspoTek Labrador"

	// RecordSize is the nominal byte count of one record: seven characters
	// of number, a comma and a space.
	RecordSize = 9

	// ColumnBreak is the number of records per line, one millisecond of
	// samples at 375 kSa/s before averaging.
	ColumnBreak = 750

	headerTitle = " DAQ V1.0 Output File"
)

// Header renders the three header lines written at the top of every file.
func Header(product string, averaging, mode int) []byte {
	if product == "" {
		product = DefaultProduct
	}
	return fmt.Appendf(nil, "%s%s\nAveraging = %d\nMode = %d\n", product, headerTitle, averaging, mode)
}

// AppendRecord appends one formatted value to dst.
func AppendRecord(dst []byte, v float64) []byte {
	dst = strconv.AppendFloat(dst, v, 'f', 5, 64)
	return append(dst, ',', ' ')
}
