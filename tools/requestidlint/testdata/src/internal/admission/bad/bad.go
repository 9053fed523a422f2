package bad

import "net/http"

func Enqueue(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "bad request", http.StatusBadRequest) // want "use writeError helper instead of http.Error"
}

func Cancel(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusForbidden) // want "use writeError helper instead of calling WriteHeader directly"
}
