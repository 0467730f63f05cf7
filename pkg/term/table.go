package term

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/muesli/termenv"
)

const boldColorStr = termenv.CSI + termenv.BoldSeq + "m"

func Table(slice any, attributes ...string) error {
	return DefaultTerm.Table(slice, attributes...)
}

// Table prints the named fields of each struct in slice as aligned columns.
func (t *Term) Table(slice any, attributes ...string) error {
	val := reflect.ValueOf(slice)
	if slice != nil && val.Kind() != reflect.Slice {
		return errors.New("table: input is not a slice")
	}

	w := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', 0)

	header := make([]string, len(attributes))
	for i, attr := range attributes {
		header[i] = strings.ToUpper(attr)
	}
	line := strings.Join(header, "\t")
	if t.StdoutCanColor() {
		// keep the escape codes out of the first column's width
		if _, err := fmt.Fprintln(w, boldColorStr); err != nil {
			return err
		}
		line += resetColorStr
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}

	if slice == nil {
		return w.Flush()
	}
	for i := range val.Len() {
		item := val.Index(i)
		for item.Kind() == reflect.Pointer || item.Kind() == reflect.Interface {
			item = item.Elem()
		}
		cells := make([]string, len(attributes))
		for j, attr := range attributes {
			field := item.FieldByName(attr)
			if !field.IsValid() {
				cells[j] = "N/A"
				continue
			}
			cells[j] = fmt.Sprint(field.Interface())
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}
