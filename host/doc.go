// Package host runs guest modules and gives them synchronous access to
// coordinator-owned state.
//
// A guest calls state_get or state_set; the host function publishes a
// request to the coordinator and blocks the guest's goroutine on the shared
// channel until the response arrives, so the guest sees a plain synchronous
// call. Actions (verify, init_module, invoke_export, close_module) are
// executed one at a time by Serve.
//
// Guest imports, all in module "env":
//
//	state_get(ret_ptr, key_ptr, key_len)          writes (val_ptr, val_len) at ret_ptr
//	                                              val_ptr is allocated by the guest's alloc
//	                                              and the guest frees it
//	state_set(key_ptr, key_len, val_ptr, val_len)
//	throw(msg_ptr, msg_len)                       aborts the call with a sandbox fault
//	log(msg_ptr, msg_len)
package host
