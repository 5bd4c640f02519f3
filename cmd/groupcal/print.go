package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"groupcal/internal/client"
	"groupcal/internal/mapi"
)

func printItems(w io.Writer, items []client.Item) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tSUBJECT\tLOCATION\tFLAGS")
	for _, it := range items {
		start, _ := it.Time(mapi.PropStartDate)
		end, _ := it.Time(mapi.PropDueDate)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			start.Format(time.DateTime), end.Format(time.DateTime),
			it.String(mapi.PropSubject), it.String(mapi.PropLocation), flags(it))
	}
	_ = tw.Flush()
}

func flags(it client.Item) string {
	var f []string
	for _, p := range []string{mapi.PropAllDayEvent, mapi.PropException, mapi.PropPrivate} {
		if b, _ := it.Props[p].(bool); b {
			f = append(f, p)
		}
	}
	if _, ok := it.Props[mapi.PropBaseDate]; ok {
		f = append(f, "occurrence")
	}
	return strings.Join(f, ",")
}
