// Package interaction turns user gestures into graph mutations.
//
// A Controller owns one graph.Store and the layout.Simulator attached to it.
// Gestures that need data (root selection, expansion) issue a generation
// token and start an asynchronous fetch; only the response carrying the most
// recently issued token is applied, older ones are discarded. Drags pin nodes
// in world space and pan/zoom only changes the view transform.
//
// Usage:
//
//	ctrl := interaction.New(client, cfg, interaction.Callbacks{
//	    OnSettled: func() { log.Println("settled") },
//	})
//	defer ctrl.Close()
//
//	ctrl.SelectRoot("Acme Corp", nil)
//	ctrl.Wait()
//	for ctrl.State() != models.SimSettled {
//	    ctrl.Tick(16 * time.Millisecond)
//	}
//	snap := ctrl.Snapshot()
package interaction
