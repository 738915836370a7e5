// Package mapcluster provides an embeddable Go client for clustered map
// layers backed by Valkey or Redis.
//
// A layer holds point items (pins, labels, footprints) with a zoom range and
// a screen or world sized extent. Clustered layers collapse overlapping items
// into cluster markers per zoom level; viewport sessions report which items
// appear or disappear as the visible rectangle moves.
//
//	client, _ := mapcluster.New(ctx, mapcluster.WithValkey("localhost:6379", ""))
//	defer client.Close()
//
//	_, _ = client.Layers().Create(ctx, "places", true)
//	ids, _ := client.Layers().AddItems(ctx, "places", []mapcluster.ItemSpec{
//	    {Lat: 55.75, Lon: 37.62, Width: 24, Height: 32, Origin: mapcluster.OriginBottomCenter},
//	})
//
//	sess, _ := client.Sessions().Open(ctx, "places")
//	upd, _ := client.Sessions().Update(ctx, sess.ID, mapcluster.Viewport{
//	    North: 56, West: 37, South: 55.5, East: 38, Zoom: 10,
//	})
//	for _, c := range upd.Changes {
//	    // c.Visible == true: draw c.Item; false: remove c.ID
//	}
package mapcluster
