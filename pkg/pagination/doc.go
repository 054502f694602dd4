// Package pagination implements the opaque cursors used by the list methods.
//
// Servers slice a catalog with Paginate, which returns the page for a cursor
// and the cursor of the next page:
//
//	page, next, err := pagination.Paginate(tools, params.Cursor, pageSize)
//
// Clients drain every page with a Collector:
//
//	c := pagination.NewCollector[protocol.Tool](0)
//	for c.HasMore() {
//	    res, err := client.ListTools(ctx, c.NextCursor)
//	    if err != nil {
//	        return nil, err
//	    }
//	    c.Add(res.Tools, res.NextCursor)
//	}
package pagination
