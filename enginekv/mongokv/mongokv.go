// Package mongokv implements enginekv.KV over a single MongoDB
// collection sorted on its "k" field, adapted from the teacher's
// pkg/sorted/mongo backend (gopkg.in/mgo.v2 in place of the teacher's
// vendored labix.org/v2/mgo).
package mongokv

import (
	"github.com/pkg/errors"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"centidb.dev/centidb/enginekv"
	"centidb.dev/centidb/jsonconfig"
)

// collectionName mirrors the teacher's choice to keep key and value as
// distinct document fields rather than a single key:value map, since "."
// is illegal in a BSON field name and there is no partial-match query
// for field presence.
const collectionName = "rows"

func init() {
	enginekv.Register("mongo", newFromConfig)
}

func newFromConfig(cfg jsonconfig.Obj) (enginekv.KV, error) {
	host := cfg.OptionalString("host", "localhost")
	database := cfg.RequiredString("database")
	user := cfg.OptionalString("user", "")
	password := cfg.OptionalString("password", "")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	info := &mgo.DialInfo{Addrs: []string{host}, Database: database}
	if user != "" {
		info.Username, info.Password = user, password
	}
	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, errors.Wrap(err, "mongokv: dial")
	}
	session.SetMode(mgo.Strong, true)
	coll := session.DB(database).C(collectionName)
	if err := coll.EnsureIndexKey("k"); err != nil {
		return nil, errors.Wrap(err, "mongokv: ensure index")
	}
	return &kv{session: session, coll: coll}, nil
}

type doc struct {
	Key   []byte `bson:"k"`
	Value []byte `bson:"v"`
}

type kv struct {
	session *mgo.Session
	coll    *mgo.Collection
}

func (k *kv) Get(key []byte) ([]byte, error) {
	var d doc
	err := k.coll.Find(bson.M{"k": key}).One(&d)
	if err == mgo.ErrNotFound {
		return nil, enginekv.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongokv: get")
	}
	return d.Value, nil
}

func (k *kv) Put(key, value []byte) error {
	_, err := k.coll.Upsert(bson.M{"k": key}, bson.M{"$set": bson.M{"k": key, "v": value}})
	return errors.Wrap(err, "mongokv: put")
}

func (k *kv) Delete(key []byte) error {
	err := k.coll.Remove(bson.M{"k": key})
	if err == mgo.ErrNotFound {
		return nil
	}
	return errors.Wrap(err, "mongokv: delete")
}

func (k *kv) TxnID() any { return nil }
func (k *kv) Close() error {
	k.session.Close()
	return nil
}

func (k *kv) Range(start []byte, reverse bool) enginekv.Iterator {
	sortKey, query := "k", bson.M{}
	if reverse {
		sortKey = "-k"
	}
	if len(start) > 0 {
		op := "$gte"
		if reverse {
			op = "$lte"
		}
		query = bson.M{"k": bson.M{op: start}}
	}
	return &iter{mgoIter: k.coll.Find(query).Sort(sortKey).Iter()}
}

type iter struct {
	mgoIter *mgo.Iter
	cur     doc
}

func (it *iter) Next() bool {
	return it.mgoIter.Next(&it.cur)
}

func (it *iter) Key() []byte   { return it.cur.Key }
func (it *iter) Value() []byte { return it.cur.Value }
func (it *iter) Err() error    { return it.mgoIter.Err() }
func (it *iter) Close() error  { return it.mgoIter.Close() }
